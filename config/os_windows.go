//go:build windows

package config

import (
	"os"
	"strings"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
	"golang.org/x/term"
)

// CleanFileName strips characters the Windows shell does not accept in
// file names so the result is usable as a single path element.
func CleanFileName(in string) string {
	const bad = `<>":/\|?*`
	out := strings.Map(func(sym rune) rune {
		if sym == 0 || strings.ContainsRune(bad+string(os.PathSeparator)+string(os.PathListSeparator), sym) {
			return -1
		}
		return sym
	}, in)
	if len(out) == 0 {
		out = "_bad_file_name_"
	}
	return out
}

// windows10OrLater checks the installed major version, VT100 sequence
// processing in the console only exists from Windows 10 on.
func windows10OrLater() bool {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, `SOFTWARE\Microsoft\Windows NT\CurrentVersion`, registry.QUERY_VALUE)
	if err != nil {
		return false
	}
	defer k.Close()

	v, _, err := k.GetIntegerValue("CurrentMajorVersionNumber")
	return err == nil && v >= 10
}

// EnableColorOutput reports whether the stream can render colorized
// output, switching the console to VT100 sequence processing on the way.
func EnableColorOutput(stream *os.File) bool {
	if !windows10OrLater() {
		return false
	}
	if !term.IsTerminal(int(stream.Fd())) {
		return false
	}

	h := windows.Handle(stream.Fd())
	var mode uint32
	if windows.GetConsoleMode(h, &mode) != nil {
		return false
	}
	mode |= windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING
	return windows.SetConsoleMode(h, mode) == nil
}
