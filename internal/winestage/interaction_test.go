package winestage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSelectionIndices(t *testing.T) {
	idx, exclude, err := ParseSelectionIndices("3, 1,3", 5)
	require.NoError(t, err)
	assert.False(t, exclude)
	assert.Equal(t, []int{0, 2}, idx)

	idx, exclude, err = ParseSelectionIndices("-2,-4", 5)
	require.NoError(t, err)
	assert.True(t, exclude)
	assert.Equal(t, []int{0, 2, 4}, idx)

	idx, _, err = ParseSelectionIndices("", 5)
	require.NoError(t, err)
	assert.Nil(t, idx)

	_, _, err = ParseSelectionIndices("6", 5)
	assert.Error(t, err)
	_, _, err = ParseSelectionIndices("two", 5)
	assert.Error(t, err)
}

func newTestPrompter(input string) *Prompter {
	console, _ := quietConsole()
	return NewPrompter(strings.NewReader(input), console, false)
}

func TestConfirm(t *testing.T) {
	assert.True(t, newTestPrompter("\n").Confirm("Reuse?"))
	assert.True(t, newTestPrompter("yes\n").Confirm("Reuse?"))
	assert.False(t, newTestPrompter("n\n").Confirm("Reuse?"))
	assert.False(t, newTestPrompter("maybe\nno\n").Confirm("Reuse?"))
	assert.False(t, newTestPrompter("").Confirm("Reuse?"))

	console, _ := quietConsole()
	assert.True(t, NewPrompter(strings.NewReader(""), console, true).Confirm("Reuse?"))
}

func TestAskForSelection(t *testing.T) {
	idx, ok := newTestPrompter("\n").AskForSelection("Remove?", 3)
	require.True(t, ok)
	assert.Equal(t, []int{0, 1, 2}, idx)

	idx, ok = newTestPrompter("9\n2\n").AskForSelection("Remove?", 3)
	require.True(t, ok)
	assert.Equal(t, []int{1}, idx)

	_, ok = newTestPrompter("cancel\n").AskForSelection("Remove?", 3)
	assert.False(t, ok)
}

func TestAskForOne(t *testing.T) {
	i, ok := newTestPrompter("\n").AskForOne("Version", 4, 2)
	require.True(t, ok)
	assert.Equal(t, 2, i)

	i, ok = newTestPrompter("1,2\n-1\n4\n").AskForOne("Version", 4, 0)
	require.True(t, ok)
	assert.Equal(t, 3, i)

	_, ok = newTestPrompter("q\n").AskForOne("Version", 4, 0)
	assert.False(t, ok)
	_, ok = newTestPrompter("").AskForOne("Version", 4, 0)
	assert.False(t, ok)
}
