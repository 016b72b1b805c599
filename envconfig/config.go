// config.go - Haupt-Konfigurationsfunktionen fuer qnnrt
//
// Dieses Modul enthaelt:
// - BackendLib: Pfad des Backend-Moduls (QNN_BACKEND_LIB)
// - SystemLib: Pfad des System-Moduls (QNN_SYSTEM_LIB)
// - SDKRoot / LibraryPath: Suchpfade fuer Module (QNN_SDK_ROOT, QNN_LIBRARY_PATH)
// - HTPArch: Ziel-Architektur fuer DeviceCreate (QNN_HTP_ARCH)
// - LogLevel: Gibt Log-Level zurueck (QNN_DEBUG)
//
// Weitere Konfigurationen sind ausgelagert:
// - config_features.go: Feature-Flags und Ausfuehrungs-Parameter
// - config_utils.go: Utility-Funktionen und AsMap/Values
package envconfig

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// BackendLib gibt den Pfad des Backend-Moduls zurueck
// Konfigurierbar via QNN_BACKEND_LIB
// Default: libQnnHtp.so
func BackendLib() string {
	if s := Var("QNN_BACKEND_LIB"); s != "" {
		return s
	}
	return "libQnnHtp.so"
}

// SystemLib gibt den Pfad des System-Moduls zurueck
// Konfigurierbar via QNN_SYSTEM_LIB
// Default: libQnnSystem.so
func SystemLib() string {
	if s := Var("QNN_SYSTEM_LIB"); s != "" {
		return s
	}
	return "libQnnSystem.so"
}

var (
	// SDKRoot gibt das Wurzelverzeichnis des Accelerator-SDKs zurueck
	// Konfigurierbar via QNN_SDK_ROOT
	SDKRoot = String("QNN_SDK_ROOT")

	// LogFile gibt eine optionale Log-Datei zurueck
	// Konfigurierbar via QNN_LOG_FILE (leer = nur stderr)
	LogFile = String("QNN_LOG_FILE")
)

// LibraryPath gibt zusaetzliche Modul-Suchpfade zurueck
// Konfigurierbar via QNN_LIBRARY_PATH (Pfadliste wie PATH)
func LibraryPath() []string {
	var dirs []string
	for _, dir := range filepath.SplitList(Var("QNN_LIBRARY_PATH")) {
		if dir = strings.TrimSpace(dir); dir != "" {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// HTPArch gibt die Accelerator-Architektur fuer DeviceCreate zurueck
// Konfigurierbar via QNN_HTP_ARCH (z.B. v73)
// Default: v73
func HTPArch() string {
	if s := Var("QNN_HTP_ARCH"); s != "" {
		return strings.ToLower(s)
	}
	return "v73"
}

// ProfilePath gibt den Pfad des Profiling-Logs zurueck
// Konfigurierbar via QNN_PROFILE_PATH
// Default: qnn_profile_data.txt
func ProfilePath() string {
	if s := Var("QNN_PROFILE_PATH"); s != "" {
		return s
	}
	return "qnn_profile_data.txt"
}

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via QNN_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("QNN_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
