package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateCommand_AllowsListedPrefixes(t *testing.T) {
	t.Parallel()

	for _, run := range []string{"cargo test", "cargo check --all", "npm test", "pytest -q", "make lint", "echo ok"} {
		assert.NoError(t, ValidateCommand(run), "run %q", run)
	}
}

func TestValidateCommand_RejectsUnlistedPrefix(t *testing.T) {
	t.Parallel()

	err := ValidateCommand("rm -rf /")
	assert.ErrorIs(t, err, ErrCommandDisallowed)
}

func TestValidateCommand_RejectsShellMetacharacters(t *testing.T) {
	t.Parallel()

	for _, run := range []string{"cargo test; rm -rf /", "cargo test && echo pwned", "cargo test $(whoami)", "echo `id`"} {
		err := ValidateCommand(run)
		assert.ErrorIs(t, err, ErrCommandDisallowed, "run %q", run)
	}
}

func TestScopeCommandToChangeset_AppendsCargoCrateName(t *testing.T) {
	t.Parallel()

	out := ScopeCommandToChangeset("cargo test", []string{"crates/nsi-core/src/lib.rs"})

	assert.Equal(t, "cargo test nsi-core", out)
}

func TestScopeCommandToChangeset_DropsUnsafeTokens(t *testing.T) {
	t.Parallel()

	out := ScopeCommandToChangeset("cargo test", []string{"crates/--evil/src/lib.rs"})

	assert.Equal(t, "cargo test", out)
}

func TestScopeCommandToChangeset_DeduplicatesTokens(t *testing.T) {
	t.Parallel()

	out := ScopeCommandToChangeset("cargo test", []string{
		"crates/nsi-core/src/lib.rs",
		"crates/nsi-core/src/other.rs",
	})

	assert.Equal(t, "cargo test nsi-core", out)
}

func TestScopeCommandToChangeset_LeavesUnscopableCommandUnchanged(t *testing.T) {
	t.Parallel()

	out := ScopeCommandToChangeset("make lint", []string{"crates/nsi-core/src/lib.rs"})

	assert.Equal(t, "make lint", out)
}
