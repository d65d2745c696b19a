package containerpool

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
)

// sshImageRecipe is a faithful Dockerfile-equivalent for a minimal
// Debian-based image that installs an SSH daemon, provisions root with the
// configured password, permits root login with a password, disables PAM,
// exposes port 22, and runs the daemon in the foreground.
func sshImageRecipe(rootPassword string) string {
	return fmt.Sprintf(`FROM debian:stable-slim
RUN apt-get update && apt-get install -y --no-install-recommends openssh-server \
    && mkdir -p /run/sshd \
    && echo 'root:%s' | chpasswd \
    && sed -i 's/^#\?PermitRootLogin.*/PermitRootLogin yes/' /etc/ssh/sshd_config \
    && sed -i 's/^#\?PasswordAuthentication.*/PasswordAuthentication yes/' /etc/ssh/sshd_config \
    && sed -i 's/^UsePAM yes/UsePAM no/' /etc/ssh/sshd_config \
    && rm -rf /var/lib/apt/lists/*
EXPOSE 22
CMD ["/usr/sbin/sshd", "-D"]
`, rootPassword)
}

// buildContext packages the Dockerfile recipe into the tar stream the
// Docker image build API expects.
func buildContext(dockerfile string) (io.Reader, error) {
	var buf bytes.Buffer

	tw := tar.NewWriter(&buf)

	hdr := &tar.Header{
		Name: "Dockerfile",
		Mode: 0o644,
		Size: int64(len(dockerfile)),
	}

	if err := tw.WriteHeader(hdr); err != nil {
		return nil, fmt.Errorf("write tar header: %w", err)
	}

	if _, err := tw.Write([]byte(dockerfile)); err != nil {
		return nil, fmt.Errorf("write tar body: %w", err)
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar writer: %w", err)
	}

	return &buf, nil
}

// buildImage invokes the runtime's build command against the fixed image
// recipe and drains the build log.
func buildImage(ctx context.Context, cli client.CommonAPIClient, tag, rootPassword string) error {
	recipe := sshImageRecipe(rootPassword)

	tarCtx, err := buildContext(recipe)
	if err != nil {
		return fmt.Errorf("build context: %w", err)
	}

	resp, err := cli.ImageBuild(ctx, tarCtx, types.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("image build: %w", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		logger.Debugf("build: %s", scanner.Text())
	}

	return nil
}
