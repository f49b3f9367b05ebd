//go:build nogpu

// Package wgpu is empty in nogpu builds and registers no backend.
package wgpu
