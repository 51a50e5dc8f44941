package shell

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/PapiCZ/myfs/config"
	"github.com/PapiCZ/myfs/fusefs"
	"github.com/PapiCZ/myfs/image"
	"github.com/PapiCZ/myfs/myfs"
	"github.com/PapiCZ/myfs/vfs"
	"github.com/PapiCZ/myfs/vfsapi"
	"github.com/abiosoft/ishell"
	"github.com/zeebo/blake3"
)

func session(c *ishell.Context) *Session {
	return c.Get("session").(*Session)
}

// Format creates the backing file and writes an empty filesystem to it.
func Format(c *ishell.Context) {
	if len(c.Args) > 1 {
		c.Println("expected at most 1 argument")
		return
	}
	s := session(c)

	sizeArg := s.Config.Volume.Size
	if len(c.Args) == 1 {
		sizeArg = c.Args[0]
	}
	size, err := config.ParseSize(sizeArg)
	if err != nil {
		c.Err(err)
		return
	}

	if s.server != nil {
		c.Println("VOLUME IS MOUNTED (use umount first)")
		return
	}
	if s.volume != nil && !s.Registry.Idle(s.volume) {
		c.Println("VOLUME IS BUSY")
		return
	}
	if err := s.Close(); err != nil {
		c.Err(err)
		return
	}

	path := s.Config.Volume.Path
	if err := vfs.PrepareVolumeFile(path, size); err != nil {
		c.Err(err)
		return
	}
	if err := s.OpenVolume(path); err != nil {
		c.Err(err)
		return
	}

	free, err := s.driver.Format(s.volume, s.Config.Volume.BlockSize)
	if err != nil {
		printError(c, err, "")
		return
	}
	c.SetPrompt("/ > ")
	c.Printf("OK (%d free blocks)\n", free)
}

func Mkdir(c *ishell.Context) {
	if len(c.Args) != 1 {
		c.Println("expected 1 argument")
		return
	}
	s := session(c)
	fs, err := s.FS()
	if err != nil {
		printError(c, err, "")
		return
	}

	if err := vfsapi.Mkdir(fs, s.Resolve(c.Args[0])); err != nil {
		printError(c, err, "PATH NOT FOUND (neexistuje zadaná cesta)")
		return
	}
	c.Println("OK")
}

func Ls(c *ishell.Context) {
	s := session(c)
	fs, err := s.FS()
	if err != nil {
		printError(c, err, "")
		return
	}

	path := "."
	if len(c.Args) == 1 {
		path = c.Args[0]
	}

	files, err := vfsapi.ReadDir(fs, s.Resolve(path))
	if err != nil {
		printError(c, err, "PATH NOT FOUND (neexistující adresář)")
		return
	}

	for _, v := range files {
		if v.IsDir() {
			c.Printf("+ %s\n", v.Name())
		} else {
			c.Printf("- %s %d\n", v.Name(), v.Size())
		}
	}
}

func Pwd(c *ishell.Context) {
	c.Println(session(c).cwd)
}

func Cd(c *ishell.Context) {
	if len(c.Args) != 1 {
		c.Println("expected 1 argument")
		return
	}
	s := session(c)
	fs, err := s.FS()
	if err != nil {
		printError(c, err, "")
		return
	}

	path := s.Resolve(c.Args[0])
	st, err := fs.Driver.Stat(fs.Volume, path)
	if err != nil {
		printError(c, err, "PATH NOT FOUND (neexistující cesta)")
		return
	}
	if !st.IsDir() {
		c.Println("NOT A DIRECTORY")
		return
	}

	s.cwd = path
	c.SetPrompt(path + " > ")
}

func Rmdir(c *ishell.Context) {
	if len(c.Args) != 1 {
		c.Println("expected 1 argument")
		return
	}
	s := session(c)
	fs, err := s.FS()
	if err != nil {
		printError(c, err, "")
		return
	}

	path := s.Resolve(c.Args[0])
	st, err := fs.Driver.Stat(fs.Volume, path)
	if err != nil {
		printError(c, err, "FILE NOT FOUND (neexistující adresář)")
		return
	}
	if !st.IsDir() {
		c.Println("NOT A DIRECTORY")
		return
	}
	if path == "/" || strings.HasPrefix(s.cwd+"/", path+"/") {
		c.Println("CANNOT REMOVE THE WORKING DIRECTORY")
		return
	}

	if err := vfsapi.Remove(fs, path); err != nil {
		printError(c, err, "")
		return
	}
	c.Println("OK")
}

func Rm(c *ishell.Context) {
	if len(c.Args) != 1 {
		c.Println("expected 1 argument")
		return
	}
	s := session(c)
	fs, err := s.FS()
	if err != nil {
		printError(c, err, "")
		return
	}

	path := s.Resolve(c.Args[0])
	st, err := fs.Driver.Stat(fs.Volume, path)
	if err != nil {
		printError(c, err, "FILE NOT FOUND")
		return
	}
	if st.IsDir() {
		c.Println("CANNOT REMOVE DIRECTORY (use rmdir instead)")
		return
	}

	if err := vfsapi.Remove(fs, path); err != nil {
		printError(c, err, "")
		return
	}
	c.Println("OK")
}

// targetPath resolves dst, descending into it when it names a directory.
func targetPath(fs vfsapi.FS, src, dst string) string {
	if st, err := fs.Driver.Stat(fs.Volume, dst); err == nil && st.IsDir() {
		return vfsapi.Join(dst, vfsapi.Base(src))
	}
	return dst
}

func Mv(c *ishell.Context) {
	if len(c.Args) != 2 {
		c.Println("expected 2 arguments")
		return
	}
	s := session(c)
	fs, err := s.FS()
	if err != nil {
		printError(c, err, "")
		return
	}

	src := s.Resolve(c.Args[0])
	st, err := fs.Driver.Stat(fs.Volume, src)
	if err != nil {
		printError(c, err, "FILE NOT FOUND (není zdroj)")
		return
	}
	if st.IsDir() {
		c.Println("DIRECTORY CANNOT BE MOVED")
		return
	}

	dst := targetPath(fs, src, s.Resolve(c.Args[1]))
	if dst == src {
		c.Println("OK")
		return
	}
	if vfsapi.Exists(fs, dst) {
		if err := vfsapi.Remove(fs, dst); err != nil {
			printError(c, err, "")
			return
		}
	}

	if err := vfsapi.Rename(fs, src, dst); err != nil {
		printError(c, err, "PATH NOT FOUND (neexistuje cílová cesta)")
		return
	}
	c.Println("OK")
}

func Cp(c *ishell.Context) {
	if len(c.Args) != 2 {
		c.Println("expected 2 arguments")
		return
	}
	s := session(c)
	fs, err := s.FS()
	if err != nil {
		printError(c, err, "")
		return
	}

	src := s.Resolve(c.Args[0])
	data, err := vfsapi.ReadFile(fs, src)
	if err != nil {
		printError(c, err, "FILE NOT FOUND (není zdroj)")
		return
	}

	dst := targetPath(fs, src, s.Resolve(c.Args[1]))
	if dst == src {
		c.Println("OK")
		return
	}
	if err := vfsapi.WriteFile(fs, dst, data); err != nil {
		printError(c, err, "PATH NOT FOUND (neexistuje cílová cesta)")
		return
	}
	c.Println("OK")
}

func Ln(c *ishell.Context) {
	if len(c.Args) != 2 {
		c.Println("expected 2 arguments")
		return
	}
	s := session(c)
	fs, err := s.FS()
	if err != nil {
		printError(c, err, "")
		return
	}

	if err := vfsapi.Link(fs, s.Resolve(c.Args[0]), s.Resolve(c.Args[1])); err != nil {
		printError(c, err, "FILE NOT FOUND (není zdroj)")
		return
	}
	c.Println("OK")
}

func Cat(c *ishell.Context) {
	if len(c.Args) != 1 {
		c.Println("expected 1 argument")
		return
	}
	s := session(c)
	fs, err := s.FS()
	if err != nil {
		printError(c, err, "")
		return
	}

	file, err := vfsapi.Open(fs, s.Resolve(c.Args[0]))
	if err != nil {
		printError(c, err, "FILE NOT FOUND (není zdroj)")
		return
	}
	defer func() {
		_ = file.Close()
	}()
	if file.IsDir() {
		c.Println("IS A DIRECTORY")
		return
	}

	data := make([]byte, 4000)
	for {
		n, err := file.Read(data)
		if err != nil {
			if err == io.EOF {
				break
			}
			printError(c, err, "")
			return
		}
		c.Printf("%s", data[:n])
	}
	c.Println()
}

func Incp(c *ishell.Context) {
	if len(c.Args) != 2 {
		c.Println("expected 2 arguments")
		return
	}
	s := session(c)
	fs, err := s.FS()
	if err != nil {
		printError(c, err, "")
		return
	}

	srcFile, err := os.Open(c.Args[0])
	if err != nil {
		if os.IsNotExist(err) {
			c.Println("FILE NOT FOUND (není zdroj)")
		} else {
			c.Err(err)
		}
		return
	}
	defer func() {
		_ = srcFile.Close()
	}()

	dst := s.Resolve(c.Args[1])
	if st, err := fs.Driver.Stat(fs.Volume, dst); err == nil {
		if st.IsDir() {
			dst = vfsapi.Join(dst, vfsapi.Base(c.Args[0]))
		}
	}
	if vfsapi.Exists(fs, dst) {
		if err := vfsapi.Remove(fs, dst); err != nil {
			printError(c, err, "")
			return
		}
	}

	dstFile, err := vfsapi.Create(fs, dst)
	if err != nil {
		printError(c, err, "PATH NOT FOUND (neexistuje cílová cesta)")
		return
	}
	_, err = io.Copy(dstFile, srcFile)
	if closeErr := dstFile.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		printError(c, err, "")
		return
	}
	c.Println("OK")
}

func Outcp(c *ishell.Context) {
	if len(c.Args) != 2 {
		c.Println("expected 2 arguments")
		return
	}
	s := session(c)
	fs, err := s.FS()
	if err != nil {
		printError(c, err, "")
		return
	}

	srcFile, err := vfsapi.Open(fs, s.Resolve(c.Args[0]))
	if err != nil {
		printError(c, err, "FILE NOT FOUND (není zdroj)")
		return
	}
	defer func() {
		_ = srcFile.Close()
	}()
	if srcFile.IsDir() {
		c.Println("IS A DIRECTORY")
		return
	}

	dstFile, err := os.Create(c.Args[1])
	if err != nil {
		if os.IsNotExist(err) {
			c.Println("PATH NOT FOUND (neexistuje cílová cesta)")
		} else {
			c.Err(err)
		}
		return
	}
	defer func() {
		_ = dstFile.Close()
	}()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		printError(c, err, "")
		return
	}
	c.Println("OK")
}

// Info prints the record behind a path and its block chain.
func Info(c *ishell.Context) {
	if len(c.Args) != 1 {
		c.Println("expected 1 argument")
		return
	}
	s := session(c)
	fs, err := s.FS()
	if err != nil {
		printError(c, err, "")
		return
	}

	file, err := vfsapi.Open(fs, s.Resolve(c.Args[0]))
	if err != nil {
		printError(c, err, "FILE NOT FOUND (není zdroj)")
		return
	}
	info, err := file.Stat()
	_ = file.Close()
	if err != nil {
		printError(c, err, "")
		return
	}

	c.Printf("%s - %d - %d\n", info.Name(), info.Size(), info.Inumber())
	c.Printf("References: %d\n", info.RefCount())
	c.Printf("Blocks (%d)\n", info.Blocks())
	c.Println(strings.Join(BlockAddrsToStrings(info.BlockAddrs()), " "))
}

// Stats prints the geometry and usage of the volume.
func Stats(c *ishell.Context) {
	s := session(c)
	fs, err := s.FS()
	if err != nil {
		printError(c, err, "")
		return
	}

	sb, err := myfs.ReadSuperblock(fs.Volume)
	if err != nil {
		printError(c, err, "")
		return
	}
	free, err := vfsapi.FreeBlocks(fs)
	if err != nil {
		printError(c, err, "")
		return
	}

	c.Printf("Volume:      %s (%d sectors of %d bytes)\n", s.volume.Path(), fs.Volume.SectorCount(), fs.Volume.SectorSize())
	c.Printf("Block size:  %d\n", sb.BlockSize)
	c.Printf("Bitmap:      sectors %d-%d\n", sb.BitmapStart, sb.FirstBlock-1)
	c.Printf("Blocks:      %d, %d free\n", sb.BlockCount, free)
	if s.server != nil {
		c.Println("Mounted:     yes")
	}
}

func Sum(c *ishell.Context) {
	if len(c.Args) != 1 {
		c.Println("expected 1 argument")
		return
	}
	s := session(c)
	fs, err := s.FS()
	if err != nil {
		printError(c, err, "")
		return
	}

	path := s.Resolve(c.Args[0])
	file, err := vfsapi.Open(fs, path)
	if err != nil {
		printError(c, err, "FILE NOT FOUND (není zdroj)")
		return
	}
	defer func() {
		_ = file.Close()
	}()
	if file.IsDir() {
		c.Println("IS A DIRECTORY")
		return
	}

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		printError(c, err, "")
		return
	}
	c.Printf("%x  %s\n", hasher.Sum(nil), path)
}

func Check(c *ishell.Context) {
	s := session(c)
	fs, err := s.FS()
	if err != nil {
		printError(c, err, "")
		return
	}

	problems, err := vfsapi.Check(fs)
	if err != nil {
		printError(c, err, "")
		return
	}
	if len(problems) == 0 {
		c.Println("OK")
		return
	}
	for _, problem := range problems {
		c.Println(problem)
	}
}

func Export(c *ishell.Context) {
	if len(c.Args) < 1 || len(c.Args) > 2 {
		c.Println("expected 1 or 2 arguments")
		return
	}
	s := session(c)
	fs, err := s.FS()
	if err != nil {
		printError(c, err, "")
		return
	}

	codecName := s.Config.Image.Codec
	if len(c.Args) == 2 {
		codecName = c.Args[1]
	}
	codec, err := image.ParseCodec(codecName)
	if err != nil {
		c.Err(err)
		return
	}

	out, err := os.Create(c.Args[0])
	if err != nil {
		c.Err(err)
		return
	}
	summary, err := image.Export(out, fs.Volume, image.Options{Codec: codec, Log: s.Log})
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		c.Err(err)
		return
	}
	c.Printf("OK (%d chunks, %d empty, blake3 %x)\n", summary.Chunks, summary.Skipped, summary.Digest)
}

func Import(c *ishell.Context) {
	if len(c.Args) != 1 {
		c.Println("expected 1 argument")
		return
	}
	s := session(c)
	fs, err := s.FS()
	if err != nil {
		printError(c, err, "")
		return
	}
	if s.server != nil {
		c.Println("VOLUME IS MOUNTED (use umount first)")
		return
	}
	if !s.Registry.Idle(fs.Volume) {
		c.Println("VOLUME IS BUSY")
		return
	}

	in, err := os.Open(c.Args[0])
	if err != nil {
		if os.IsNotExist(err) {
			c.Println("FILE NOT FOUND (není zdroj)")
		} else {
			c.Err(err)
		}
		return
	}
	defer func() {
		_ = in.Close()
	}()

	summary, err := image.Import(in, fs.Volume, s.Log)
	if err != nil {
		c.Err(err)
		return
	}
	s.cwd = "/"
	c.SetPrompt("/ > ")
	c.Printf("OK (%d sectors, blake3 %x)\n", summary.SectorCount, summary.Digest)
}

func Mount(c *ishell.Context) {
	if len(c.Args) != 1 {
		c.Println("expected 1 argument")
		return
	}
	s := session(c)

	s.mu.Lock()
	defer s.mu.Unlock()
	fs, err := s.FS()
	if err != nil {
		printError(c, err, "")
		return
	}
	if s.server != nil {
		c.Println("ALREADY MOUNTED")
		return
	}

	server, err := fusefs.Mount(fusefs.Options{
		Mountpoint: c.Args[0],
		FS:         fs,
		Mu:         &s.mu,
		FSName:     s.Config.Mount.FSName,
		AllowOther: s.Config.Mount.AllowOther,
		Debug:      s.Config.Mount.Debug,
		Log:        s.Log,
	})
	if err != nil {
		c.Err(err)
		return
	}
	s.server = server
	c.Println("OK")
}

func Umount(c *ishell.Context) {
	s := session(c)
	if s.server == nil {
		c.Println("NOT MOUNTED")
		return
	}
	if err := s.server.Unmount(); err != nil {
		c.Err(err)
		return
	}
	s.server = nil
	c.Println("OK")
}

func Load(c *ishell.Context) {
	if len(c.Args) != 1 {
		c.Println("expected 1 argument")
		return
	}

	shell := c.Get("shell").(*ishell.Shell)

	bytes, err := os.ReadFile(c.Args[0])
	if err != nil {
		if os.IsNotExist(err) {
			c.Println("FILE NOT FOUND (není zdroj)")
		} else {
			c.Err(err)
		}
		return
	}

	for _, cmd := range strings.Split(string(bytes), "\n") {
		fields := strings.Fields(cmd)
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		c.Println(cmd)

		if err := shell.Process(fields...); err != nil {
			c.Err(err)
			return
		}
	}
}

// printError prints the message users expect for known error kinds.
// notFound replaces the generic message for missing paths.
func printError(c *ishell.Context, err error, notFound string) {
	var (
		notEmpty  vfsapi.DirectoryIsNotEmpty
		duplicate vfsapi.DuplicateDirectoryEntry
	)
	switch {
	case errors.Is(err, errNoVolume):
		c.Println("NO VOLUME (use format first)")
	case errors.Is(err, myfs.ErrNotFormatted):
		c.Println("VOLUME IS NOT FORMATTED (use format first)")
	case errors.Is(err, myfs.ErrNotFound):
		if notFound == "" {
			notFound = "PATH NOT FOUND"
		}
		c.Println(notFound)
	case errors.As(err, &duplicate):
		c.Println("EXIST (nelze založit, již existuje)")
	case errors.As(err, &notEmpty), errors.Is(err, myfs.ErrNonEmptyDirectory):
		c.Println("NOT EMPTY (adresář obsahuje podadresáře, nebo soubory)")
	case errors.Is(err, myfs.ErrExhausted), errors.Is(err, myfs.ErrNoFreeRecord), errors.Is(err, io.ErrShortWrite):
		c.Println("NOT ENOUGH AVAILABLE SPACE")
	case errors.Is(err, myfs.ErrVolumeTooSmall):
		c.Println("VOLUME IS TOO SMALL")
	case errors.Is(err, myfs.ErrWrongType):
		c.Println("NOT A DIRECTORY")
	case errors.Is(err, myfs.ErrStillReferenced):
		c.Println("FILE IS OPEN")
	case errors.Is(err, myfs.ErrNameTooLong):
		c.Println("NAME TOO LONG")
	default:
		c.Err(err)
	}
}
