package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVisibilityForRust(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "public", visibilityFor("rust", "pub fn run() {}", "run"))
	assert.Equal(t, "public", visibilityFor("rust", "pub(crate) fn run() {}", "run"))
	assert.Equal(t, "private", visibilityFor("rust", "fn run() {}", "run"))
}

func TestVisibilityForPython(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "public", visibilityFor("python", "def run():", "run"))
	assert.Equal(t, "private", visibilityFor("python", "def _run():", "_run"))
}

func TestVisibilityForJava(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "public", visibilityFor("java", "public void run()", "run"))
	assert.Equal(t, "private", visibilityFor("java", "private void run()", "run"))
	assert.Equal(t, "private", visibilityFor("java", "protected void run()", "run"))
	assert.Equal(t, "private", visibilityFor("java", "void run()", "run"), "package-private defaults to private")
}

func TestVisibilityForGoJSAndTSUsesExportedCapitalization(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "public", visibilityFor("go", "func Run() {}", "Run"))
	assert.Equal(t, "private", visibilityFor("go", "func run() {}", "run"))
	assert.Equal(t, "public", visibilityFor("javascript", "function Run() {}", "Run"))
	assert.Equal(t, "private", visibilityFor("typescript", "function run() {}", "run"))
}

func TestIsExportedName(t *testing.T) {
	t.Parallel()

	assert.True(t, isExportedName("Run"))
	assert.False(t, isExportedName("run"))
	assert.False(t, isExportedName(""))
}
