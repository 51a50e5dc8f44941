package shell

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/PapiCZ/myfs/config"
	"github.com/PapiCZ/myfs/myfs"
	"github.com/PapiCZ/myfs/vfs"
	"github.com/PapiCZ/myfs/vfsapi"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T) *Session {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	registry := vfs.NewRegistry()
	require.NoError(t, registry.Register(myfs.Tag, myfs.Name, myfs.New(myfs.WithLogger(log))))

	cfg := config.Default()
	cfg.Volume.Path = filepath.Join(t.TempDir(), "volume.img")
	s, err := NewSession(cfg, log, registry, myfs.Name)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionWithoutVolume(t *testing.T) {
	s := newSession(t)

	_, err := s.FS()
	require.ErrorIs(t, err, errNoVolume)
	require.Error(t, s.OpenVolume(s.Config.Volume.Path))

	_, err = NewSession(s.Config, s.Log, s.Registry, "ext2")
	require.ErrorAs(t, err, &vfs.DriverNotFound{})
}

func TestSessionOpenVolume(t *testing.T) {
	s := newSession(t)
	require.NoError(t, vfs.PrepareVolumeFile(s.Config.Volume.Path, 1<<20))
	require.NoError(t, s.OpenVolume(s.Config.Volume.Path))

	fs, err := s.FS()
	require.NoError(t, err)
	_, err = fs.Driver.Format(fs.Volume, s.Config.Volume.BlockSize)
	require.NoError(t, err)
	require.NoError(t, vfsapi.Mkdir(fs, "/home"))

	s.cwd = "/home"
	require.Equal(t, "/home/notes", s.Resolve("notes"))
	require.Equal(t, "/etc", s.Resolve("/etc"))
	require.Equal(t, "/", s.Resolve(".."))

	// Reopening resets the working directory and keeps the data.
	require.NoError(t, s.OpenVolume(s.Config.Volume.Path))
	require.Equal(t, "/", s.cwd)
	fs, err = s.FS()
	require.NoError(t, err)
	require.True(t, vfsapi.Exists(fs, "/home"))
}

func TestBlockAddrsToStrings(t *testing.T) {
	require.Equal(t, []string{"66", "68", "4294967295"}, BlockAddrsToStrings([]uint32{66, 68, 4294967295}))
	require.Empty(t, BlockAddrsToStrings(nil))
}
