package browser

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chr1sbest/autoinvite/internal/resilience"
)

func TestJSONArgEscapesSelectors(t *testing.T) {
	assert.Equal(t, `".Invite"`, jsonArg(".Invite"))
	assert.Equal(t, `"[data-x=\"a\"]"`, jsonArg(`[data-x="a"]`))
	assert.Equal(t, `""`, jsonArg(""))
}

func TestItemSelector(t *testing.T) {
	assert.Equal(t, `[data-autoinvite="g3-2"]`, itemSelector("g3", 2))
}

func TestScriptsFormatCleanly(t *testing.T) {
	scripts := []string{
		fmt.Sprintf(tagItemsScript, jsonArg(".card"), jsonArg("g1"), jsonArg(tagAttr)),
		fmt.Sprintf(countScript, jsonArg(".card")),
		fmt.Sprintf(controlStateScript, jsonArg(itemSelector("g1", 0)), jsonArg(".Invite"), jsonArg("invited")),
		fmt.Sprintf(activateScript, jsonArg(""), jsonArg(".next-page")),
	}
	for _, s := range scripts {
		assert.NotContains(t, s, "%!", "bad format verb in %q", s)
		assert.True(t, strings.HasPrefix(s, "(("), "expected IIFE, got %q", s)
	}
}

func TestAllocatorOptions(t *testing.T) {
	base := len(allocatorOptions(Options{}))
	withExtras := allocatorOptions(Options{UserDataDir: "/tmp/profile", ExecPath: "/usr/bin/chromium"})
	assert.Equal(t, base+2, len(withExtras))
}

func TestOpenRequiresURL(t *testing.T) {
	_, err := Open(context.Background(), DefaultOptions(), nil)
	require.Error(t, err)
	assert.True(t, resilience.IsPermanentError(err))
}
