package cmd

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
)

// SocketName is the control socket's filename within the cache directory.
const SocketName = "pizauth.sock"

// configPath resolves the config file path: the -c/--config
// flag, else $XDG_CONFIG_HOME/pizauth.conf, else $HOME/.config/pizauth.conf.
func configPath() (string, error) {
	if configPathFlag != "" {
		return configPathFlag, nil
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "pizauth.conf"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "pizauth.conf"), nil
}

// cacheDir resolves the cache directory: $XDG_RUNTIME_DIR, else
// $TMPDIR/runtime-<user>, else /tmp/runtime-<user>, creating it with mode
// 0700 if it does not already exist.
func cacheDir() (string, error) {
	dir, err := cacheDirPath()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("creating cache directory %s: %w", dir, err)
	}
	return dir, nil
}

func cacheDirPath() (string, error) {
	if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
		return xdg, nil
	}

	username, err := currentUsername()
	if err != nil {
		return "", err
	}

	if tmp := os.Getenv("TMPDIR"); tmp != "" {
		return filepath.Join(tmp, "runtime-"+username), nil
	}
	return filepath.Join("/tmp", "runtime-"+username), nil
}

func currentUsername() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("resolving current user: %w", err)
	}
	return u.Username, nil
}

// socketPath resolves the control socket's path: cacheDir()/pizauth.sock.
func socketPath() (string, error) {
	dir, err := cacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, SocketName), nil
}
