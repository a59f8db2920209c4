package executor

import (
	"fmt"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/driveorg/internal/config"
	"git.home.luguber.info/inful/driveorg/internal/faults"
	"git.home.luguber.info/inful/driveorg/internal/store"
)

// writeShortcut materializes one shortcut at shortcutPath (without its
// type-specific suffix) pointing at absTarget. It returns the final shortcut
// path and the type actually written; strategy auto tries a symlink first and
// falls back to an internet-shortcut file.
func writeShortcut(format config.ShortcutFormat, shortcutPath, absTarget, displayName string) (string, store.ShortcutType, error) {
	switch format {
	case config.ShortcutSymlink:
		return writeSymlink(shortcutPath, absTarget)
	case config.ShortcutURL:
		return writeURLFile(shortcutPath, absTarget)
	case config.ShortcutDesktop:
		return writeDesktopFile(shortcutPath, absTarget, displayName)
	default: // auto
		p, typ, err := writeSymlink(shortcutPath, absTarget)
		if err == nil {
			return p, typ, nil
		}
		return writeURLFile(shortcutPath, absTarget)
	}
}

func writeSymlink(shortcutPath, absTarget string) (string, store.ShortcutType, error) {
	if err := os.Symlink(absTarget, shortcutPath); err != nil {
		return "", "", fmt.Errorf("symlink %s: %w: %v", shortcutPath, faults.ErrIO, err)
	}
	return shortcutPath, store.ShortcutSymlink, nil
}

func writeURLFile(shortcutPath, absTarget string) (string, store.ShortcutType, error) {
	p := shortcutPath + ".url"
	body := fmt.Sprintf("[InternetShortcut]\nURL=file://%s\n", filepath.ToSlash(absTarget))
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		return "", "", fmt.Errorf("shortcut %s: %w: %v", p, faults.ErrIO, err)
	}
	return p, store.ShortcutURL, nil
}

func writeDesktopFile(shortcutPath, absTarget, displayName string) (string, store.ShortcutType, error) {
	p := shortcutPath + ".desktop"
	body := fmt.Sprintf("[Desktop Entry]\nType=Link\nName=%s\nURL=file://%s\n",
		displayName, filepath.ToSlash(absTarget))
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		return "", "", fmt.Errorf("shortcut %s: %w: %v", p, faults.ErrIO, err)
	}
	return p, store.ShortcutDesktop, nil
}
