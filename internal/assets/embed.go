// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package assets provides the default model templates bundled with the
// binary.
package assets

import (
	"embed"
	"io/fs"
)

// templateFiles holds configs/<family>/model_config/<id>.yaml.
//
//go:embed configs
var templateFiles embed.FS

// Templates returns the filesystem of default templates, rooted so that
// formers.TemplatePath names resolve inside it.
func Templates() fs.FS {
	return templateFiles
}
