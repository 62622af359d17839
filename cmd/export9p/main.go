// Example 9P2000.L server exporting an absfs filesystem.
//
// This demonstrates how to export a filesystem to standard 9P clients
// (Linux v9fs, plan9port).
//
// Usage:
//
//	# Export a directory:
//	go run ./cmd/export9p -addr 'tcp!0.0.0.0!5640' -root /srv/export
//	sudo mount -t 9p -o trans=tcp,port=5640,version=9p2000.L 127.0.0.1 /mnt/test
//
//	# Export a throwaway in-memory filesystem:
//	go run ./cmd/export9p -addr 'tcp!127.0.0.1!5640' -memfs
package main

import (
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/absfs/abs9p"
	"github.com/absfs/absfs"
	"github.com/absfs/memfs"
	"github.com/absfs/osfs"
)

func main() {
	addr := flag.String("addr", "tcp!0.0.0.0!5640", "listen address (proto!host!port or unix!path)")
	root := flag.String("root", "", "directory to export (osfs)")
	useMemfs := flag.Bool("memfs", false, "export an in-memory filesystem instead of -root")
	readOnly := flag.Bool("ro", false, "export read-only")
	debug := flag.Bool("debug", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "structured log format (text or json)")
	flag.Parse()

	var exportFS absfs.SymlinkFileSystem
	switch {
	case *useMemfs:
		mfs, err := memfs.NewFS()
		if err != nil {
			log.Fatalf("Failed to create memfs: %v", err)
		}
		seed(mfs)
		exportFS = mfs
	case *root != "":
		absPath, err := filepath.Abs(*root)
		if err != nil {
			log.Fatalf("Invalid export root: %v", err)
		}
		ofs, err := osfs.NewFS()
		if err != nil {
			log.Fatalf("Failed to open osfs: %v", err)
		}
		exportFS = NewBasePathFS(ofs, absPath)
	default:
		log.Fatal("one of -root or -memfs is required")
	}

	backend, err := abs9p.New(exportFS, abs9p.ExportOptions{ReadOnly: *readOnly})
	if err != nil {
		log.Fatalf("Failed to create backend: %v", err)
	}

	level := "info"
	if *debug {
		level = "debug"
	}
	server, err := abs9p.NewServer(abs9p.ServerOptions{
		Addr:       *addr,
		Debug:      *debug,
		TCPNoDelay: true,
		Log:        &abs9p.LogConfig{Level: level, Format: *logFormat},
	})
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	server.SetBackend(backend)

	if err := server.Listen(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	fmt.Printf("9P server started on %s\n", server.Addr())
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	if err := server.Stop(); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}

// seed puts some browsable content into the throwaway filesystem.
func seed(fs absfs.SymlinkFileSystem) {
	if err := fs.Mkdir("/test", 0755); err != nil {
		log.Fatalf("Failed to create test directory: %v", err)
	}
	f, err := fs.Create("/test/hello.txt")
	if err != nil {
		log.Fatalf("Failed to create test file: %v", err)
	}
	f.Write([]byte("Hello from 9P!\n"))
	f.Close()

	f, err = fs.Create("/README.txt")
	if err != nil {
		log.Fatalf("Failed to create README: %v", err)
	}
	f.Write([]byte("Welcome to the abs9p example server.\n\nThis is an in-memory filesystem exported via 9P2000.L.\n"))
	f.Close()
}

// BasePathFS restricts a filesystem to a base path so the export root
// maps to a subdirectory of the host filesystem.
type BasePathFS struct {
	fs   absfs.SymlinkFileSystem
	base string
	cwd  string
}

func NewBasePathFS(fs absfs.SymlinkFileSystem, base string) *BasePathFS {
	return &BasePathFS{fs: fs, base: base, cwd: "/"}
}

func (b *BasePathFS) resolvePath(name string) string {
	clean := filepath.Clean(name)
	if clean == "." || clean == "/" {
		return b.base
	}
	if len(clean) > 0 && clean[0] == '/' {
		clean = clean[1:]
	}
	return filepath.Join(b.base, clean)
}

func (b *BasePathFS) Open(name string) (absfs.File, error) {
	return b.fs.Open(b.resolvePath(name))
}

func (b *BasePathFS) OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error) {
	return b.fs.OpenFile(b.resolvePath(name), flag, perm)
}

func (b *BasePathFS) Create(name string) (absfs.File, error) {
	return b.fs.Create(b.resolvePath(name))
}

func (b *BasePathFS) Mkdir(name string, perm os.FileMode) error {
	return b.fs.Mkdir(b.resolvePath(name), perm)
}

func (b *BasePathFS) MkdirAll(path string, perm os.FileMode) error {
	return b.fs.MkdirAll(b.resolvePath(path), perm)
}

func (b *BasePathFS) Remove(name string) error {
	return b.fs.Remove(b.resolvePath(name))
}

func (b *BasePathFS) RemoveAll(path string) error {
	return b.fs.RemoveAll(b.resolvePath(path))
}

func (b *BasePathFS) Rename(oldpath, newpath string) error {
	return b.fs.Rename(b.resolvePath(oldpath), b.resolvePath(newpath))
}

func (b *BasePathFS) Stat(name string) (os.FileInfo, error) {
	return b.fs.Stat(b.resolvePath(name))
}

func (b *BasePathFS) Lstat(name string) (os.FileInfo, error) {
	return b.fs.Lstat(b.resolvePath(name))
}

func (b *BasePathFS) Chmod(name string, mode os.FileMode) error {
	return b.fs.Chmod(b.resolvePath(name), mode)
}

func (b *BasePathFS) Chown(name string, uid, gid int) error {
	return b.fs.Chown(b.resolvePath(name), uid, gid)
}

func (b *BasePathFS) Lchown(name string, uid, gid int) error {
	return b.fs.Lchown(b.resolvePath(name), uid, gid)
}

func (b *BasePathFS) Chtimes(name string, atime, mtime time.Time) error {
	return b.fs.Chtimes(b.resolvePath(name), atime, mtime)
}

func (b *BasePathFS) Readlink(name string) (string, error) {
	return b.fs.Readlink(b.resolvePath(name))
}

func (b *BasePathFS) Symlink(oldname, newname string) error {
	return b.fs.Symlink(oldname, b.resolvePath(newname))
}

func (b *BasePathFS) Chdir(dir string) error {
	info, err := b.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &os.PathError{Op: "chdir", Path: dir, Err: syscall.ENOTDIR}
	}
	b.cwd = dir
	return nil
}

func (b *BasePathFS) Getwd() (string, error) {
	return b.cwd, nil
}

func (b *BasePathFS) TempDir() string {
	return "/tmp"
}

func (b *BasePathFS) Truncate(name string, size int64) error {
	return b.fs.Truncate(b.resolvePath(name), size)
}

func (b *BasePathFS) ReadDir(name string) ([]fs.DirEntry, error) {
	return b.fs.ReadDir(b.resolvePath(name))
}

func (b *BasePathFS) ReadFile(name string) ([]byte, error) {
	return b.fs.ReadFile(b.resolvePath(name))
}

func (b *BasePathFS) Sub(dir string) (fs.FS, error) {
	return b.fs.Sub(b.resolvePath(dir))
}
