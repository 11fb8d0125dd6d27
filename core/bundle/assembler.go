// Package bundle assembles the downloadable installer bundle: the signed
// application archive plus platform install scripts and a readme.
package bundle

import (
	"archive/zip"
	"bytes"
	"fmt"
)

const (
	scriptUnix    = "install.sh"
	scriptWindows = "install.bat"
	readmeName    = "README.txt"
)

// ArchiveName returns the application archive's file name inside the
// bundle for a brand.
func ArchiveName(brandKey string) string {
	return brandKey + ".apk"
}

// Assemble builds a fresh outer distribution archive. Bundles are
// regenerated on every request; nothing here is cached because endpoint
// and brand parameters change between requests.
func Assemble(apkData []byte, brandKey string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	apkName := ArchiveName(brandKey)
	files := []struct {
		name string
		data []byte
	}{
		{apkName, apkData},
		{scriptUnix, []byte(unixScript(apkName))},
		{scriptWindows, []byte(windowsScript(apkName))},
		{readmeName, []byte(readme(brandKey, apkName))},
	}
	for _, f := range files {
		w, err := zw.Create(f.name)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", f.name, err)
		}
		if _, err := w.Write(f.data); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize bundle: %w", err)
	}
	return buf.Bytes(), nil
}

func unixScript(apkName string) string {
	return `#!/bin/sh
# Installs the ` + apkName + ` application on a connected Android device.
if ! command -v adb >/dev/null 2>&1; then
    echo "adb not found; install the Android platform tools first."
    exit 1
fi
if ! adb get-state >/dev/null 2>&1; then
    echo "No device detected. Connect a device with USB debugging enabled and retry."
    exit 1
fi
if adb install -r "` + apkName + `"; then
    echo "Installed successfully."
else
    echo "Installation failed. Check the device screen for details."
    exit 1
fi
`
}

func windowsScript(apkName string) string {
	return "@echo off\r\n" +
		"rem Installs the " + apkName + " application on a connected Android device.\r\n" +
		"where adb >nul 2>nul\r\n" +
		"if errorlevel 1 (\r\n" +
		"    echo adb not found; install the Android platform tools first.\r\n" +
		"    exit /b 1\r\n" +
		")\r\n" +
		"adb get-state >nul 2>nul\r\n" +
		"if errorlevel 1 (\r\n" +
		"    echo No device detected. Connect a device with USB debugging enabled and retry.\r\n" +
		"    exit /b 1\r\n" +
		")\r\n" +
		"adb install -r \"" + apkName + "\"\r\n" +
		"if errorlevel 1 (\r\n" +
		"    echo Installation failed. Check the device screen for details.\r\n" +
		"    exit /b 1\r\n" +
		")\r\n" +
		"echo Installed successfully.\r\n"
}

func readme(brandKey, apkName string) string {
	return fmt.Sprintf(`%s installer bundle
====================

Contents:
  %s       the application package
  %s      install script for macOS / Linux
  %s     install script for Windows

Prerequisites: Android platform tools (adb) on your PATH and a device
with USB debugging enabled.

Run the script for your operating system, or install manually with:

  adb install -r %s
`, brandKey, apkName, scriptUnix, scriptWindows, apkName)
}
