//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"golang.org/x/exp/slices"
)

type Build mg.Namespace

const shaderDir = "shaders"

var shaderStages = []string{".vert", ".frag", ".comp"}

// Compiles every GLSL stage under shaders/ to SPIR-V next to its source.
func (Build) Shaders() error {
	return buildShaders()
}

// Tidies the module and regenerates generated code.
func (Build) Tidy() error {
	return goTidy()
}

// Builds the testbed binary into bin/.
func (Build) Testbed() error {
	mg.Deps(Build.Shaders)
	if _, err := executeCmd("go", withArgs("build", "-o", filepath.Join("bin", "anima"), "."), withStream()); err != nil {
		return err
	}
	return nil
}

func buildShaders() error {
	entries, err := os.ReadDir(shaderDir)
	if err != nil {
		return err
	}
	var sources []string
	for _, e := range entries {
		if e.IsDir() || !slices.Contains(shaderStages, filepath.Ext(e.Name())) {
			continue
		}
		sources = append(sources, e.Name())
	}
	if len(sources) == 0 {
		return fmt.Errorf("no shader sources found in %s", shaderDir)
	}
	slices.Sort(sources)

	for _, name := range sources {
		src := filepath.Join(shaderDir, name)
		dst := src + ".spv"
		if fresh, err := upToDate(src, dst); err != nil {
			return err
		} else if fresh {
			continue
		}
		if _, err := executeCmd("glslc", withArgs("-I", shaderDir, src, "-o", dst), withStream()); err != nil {
			return err
		}
	}
	return nil
}

// upToDate reports whether dst is newer than src and every shared include.
func upToDate(src, dst string) (bool, error) {
	out, err := os.Stat(dst)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	inputs := []string{src}
	includes, err := filepath.Glob(filepath.Join(shaderDir, "*.glsl"))
	if err != nil {
		return false, err
	}
	inputs = append(inputs, includes...)
	for _, in := range inputs {
		s, err := os.Stat(in)
		if err != nil {
			return false, err
		}
		if s.ModTime().After(out.ModTime()) {
			return false, nil
		}
	}
	return true, nil
}
