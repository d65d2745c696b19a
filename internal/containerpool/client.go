package containerpool

import "github.com/docker/docker/client"

// NewDockerClient creates a Docker API client bound to the given endpoint
// and API version.
func NewDockerClient(endpoint, apiVersion string) (*client.Client, error) {
	return client.NewClientWithOpts(client.WithHost(endpoint), client.WithVersion(apiVersion))
}
