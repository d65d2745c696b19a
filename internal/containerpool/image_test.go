package containerpool

import (
	"archive/tar"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSHImageRecipe_MatchesExternalInterfaceContract(t *testing.T) {
	recipe := sshImageRecipe("password123")

	assert.Contains(t, recipe, "FROM debian")
	assert.Contains(t, recipe, "openssh-server")
	assert.Contains(t, recipe, "root:password123")
	assert.Contains(t, recipe, "PermitRootLogin yes")
	assert.Contains(t, recipe, "PasswordAuthentication yes")
	assert.Contains(t, recipe, "UsePAM no")
	assert.Contains(t, recipe, "EXPOSE 22")
	assert.Contains(t, recipe, `CMD ["/usr/sbin/sshd", "-D"]`)
}

func TestBuildContext_ProducesATarWithTheDockerfile(t *testing.T) {
	recipe := sshImageRecipe("secret")

	r, err := buildContext(recipe)
	require.NoError(t, err)

	tr := tar.NewReader(r)

	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "Dockerfile", hdr.Name)

	body, err := io.ReadAll(tr)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "secret"))

	_, err = tr.Next()
	assert.Equal(t, io.EOF, err)
}
