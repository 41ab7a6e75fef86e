//go:build integration

package integration

import (
	"os"

	"github.com/bizmatters/agent-builder/agentify-wizard/tests/helpers"
)

// ClusterConfig holds configuration for in-cluster testing
type ClusterConfig struct {
	DatabaseURL string
	RuntimeURL  string
	IsInCluster bool
	Namespace   string
}

// SetupInClusterEnvironment configures the test environment for in-cluster execution
func SetupInClusterEnvironment() *ClusterConfig {
	config := &ClusterConfig{
		DatabaseURL: helpers.DatabaseURL(),
		RuntimeURL:  os.Getenv("AGENT_RUNTIME_URL"),
		IsInCluster: isRunningInCluster(),
		Namespace:   getNamespace(),
	}
	if config.IsInCluster && config.RuntimeURL == "" {
		config.RuntimeURL = "http://deepagents-runtime.intelligence-deepagents.svc:8080"
	}
	return config
}

// isRunningInCluster detects if we're running inside a Kubernetes cluster
func isRunningInCluster() bool {
	if _, err := os.Stat("/var/run/secrets/kubernetes.io/serviceaccount/token"); err == nil {
		return true
	}
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

// getNamespace returns the current Kubernetes namespace
func getNamespace() string {
	if data, err := os.ReadFile("/var/run/secrets/kubernetes.io/serviceaccount/namespace"); err == nil {
		return string(data)
	}
	if ns := os.Getenv("NAMESPACE"); ns != "" {
		return ns
	}
	return "intelligence-orchestrator"
}
