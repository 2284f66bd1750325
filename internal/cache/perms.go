package cache

import (
	"io/fs"
	"os"
	"path/filepath"
)

const (
	defaultDirMode  os.FileMode = 0o755
	defaultFileMode os.FileMode = 0o644
)

// permissions 统一管理条目目录与载荷文件的权限位。
type permissions struct {
	dirMode  os.FileMode
	fileMode os.FileMode
}

func newPermissions(dirMode, fileMode os.FileMode) permissions {
	if dirMode.Perm() == 0 {
		dirMode = defaultDirMode
	}
	if fileMode.Perm() == 0 {
		fileMode = defaultFileMode
	}
	// owner 写权限必须保留，否则 Reaper 无法删除条目。
	return permissions{
		dirMode:  dirMode.Perm() | 0o700,
		fileMode: fileMode.Perm() | 0o600,
	}
}

// mkdir 创建目录并显式 chmod，绕开 umask 的影响。
func (p permissions) mkdir(dir string) error {
	if err := os.MkdirAll(dir, p.dirMode); err != nil {
		return err
	}
	return os.Chmod(dir, p.dirMode)
}

func (p permissions) chmodFile(path string) error {
	return os.Chmod(path, p.fileMode)
}

// makeRemovable 递归补齐 owner 的读写执行位，外部工具把条目改成只读时 RemoveAll 仍能成功。
func (p permissions) makeRemovable(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		mode := info.Mode().Perm()
		want := mode | 0o600
		if d.IsDir() {
			want = mode | 0o700
		}
		if want == mode {
			return nil
		}
		return os.Chmod(path, want)
	})
}
