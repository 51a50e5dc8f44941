package shell

import (
	"errors"
	"os"
	"sync"

	"github.com/PapiCZ/myfs/config"
	"github.com/PapiCZ/myfs/vfs"
	"github.com/PapiCZ/myfs/vfsapi"
	"github.com/abiosoft/ishell"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/sirupsen/logrus"
)

var errNoVolume = errors.New("no volume is open")

// Session is the state shared by all commands of one shell.
type Session struct {
	Config   config.Config
	Log      logrus.FieldLogger
	Registry *vfs.Registry

	driver vfs.Driver
	volume *vfs.FileVolume
	cwd    string
	mu     sync.Mutex
	server *fuse.Server
}

// NewSession looks up the driver named name in registry.
func NewSession(cfg config.Config, log logrus.FieldLogger, registry *vfs.Registry, name string) (*Session, error) {
	info, err := registry.LookupName(name)
	if err != nil {
		return nil, err
	}
	return &Session{
		Config:   cfg,
		Log:      log,
		Registry: registry,
		driver:   info.Driver,
		cwd:      "/",
	}, nil
}

// OpenVolume attaches the host file at path when it exists.
func (s *Session) OpenVolume(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	volume, err := vfs.NewVolume(path, s.Config.Volume.SectorSize)
	if err != nil {
		return err
	}
	if s.volume != nil {
		_ = s.volume.Close()
	}
	s.volume = volume
	s.cwd = "/"
	s.Log.WithFields(logrus.Fields{"path": path, "volume": volume.ID()}).Debug("volume opened")
	return nil
}

func (s *Session) FS() (vfsapi.FS, error) {
	if s.volume == nil {
		return vfsapi.FS{}, errNoVolume
	}
	return vfsapi.FS{Driver: s.driver, Volume: s.volume}, nil
}

func (s *Session) Resolve(path string) string {
	return vfsapi.Resolve(s.cwd, path)
}

// Close unmounts and releases the volume.
func (s *Session) Close() error {
	if s.server != nil {
		_ = s.server.Unmount()
		s.server = nil
	}
	if s.volume == nil {
		return nil
	}
	err := s.volume.Close()
	s.volume = nil
	return err
}

func (s *Session) locked(handler func(*ishell.Context)) func(*ishell.Context) {
	return func(c *ishell.Context) {
		s.mu.Lock()
		defer s.mu.Unlock()
		handler(c)
	}
}

// New builds a shell with every command registered.
func New(session *Session) *ishell.Shell {
	shell := ishell.New()
	shell.SetPrompt("/ > ")
	shell.Set("session", session)
	shell.Set("shell", shell)

	for _, cmd := range []struct {
		name, help string
		handler    func(*ishell.Context)
		unlocked   bool
	}{
		{name: "format", help: "format [size] - create and format the volume", handler: Format},
		{name: "ls", help: "ls [path] - list a directory", handler: Ls},
		{name: "mkdir", help: "mkdir path - create a directory", handler: Mkdir},
		{name: "rmdir", help: "rmdir path - remove an empty directory", handler: Rmdir},
		{name: "rm", help: "rm path - remove a file", handler: Rm},
		{name: "mv", help: "mv src dst - move a file", handler: Mv},
		{name: "cp", help: "cp src dst - copy a file", handler: Cp},
		{name: "ln", help: "ln target name - add a hard link", handler: Ln},
		{name: "cd", help: "cd path - change the working directory", handler: Cd},
		{name: "pwd", help: "pwd - print the working directory", handler: Pwd},
		{name: "cat", help: "cat path - print a file", handler: Cat},
		{name: "incp", help: "incp host-path path - copy a host file in", handler: Incp},
		{name: "outcp", help: "outcp path host-path - copy a file out", handler: Outcp},
		{name: "info", help: "info path - show record details", handler: Info},
		{name: "stats", help: "stats - show volume usage", handler: Stats},
		{name: "sum", help: "sum path - print the BLAKE3 digest of a file", handler: Sum},
		{name: "check", help: "check - verify volume consistency", handler: Check},
		{name: "export", help: "export host-path [codec] - write a volume image", handler: Export},
		{name: "import", help: "import host-path - restore a volume image", handler: Import},
		{name: "mount", help: "mount dir - expose the volume through FUSE", handler: Mount, unlocked: true},
		{name: "umount", help: "umount - detach the FUSE mount", handler: Umount, unlocked: true},
		{name: "load", help: "load host-path - run commands from a file", handler: Load, unlocked: true},
	} {
		handler := cmd.handler
		if !cmd.unlocked {
			handler = session.locked(handler)
		}
		shell.AddCmd(&ishell.Cmd{
			Name: cmd.name,
			Help: cmd.help,
			Func: handler,
		})
	}
	return shell
}
