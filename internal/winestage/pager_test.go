package winestage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPagerPrintsWhenNotATerminal(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, RunPager(&out, "compile.log", []string{"make -j4", "[red]not markup[white]"}))
	assert.Equal(t, "make -j4\n[red]not markup[white]\n", out.String())
}
