package winestage

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ParseSelectionIndices parses a comma-separated list of 1-based numbers.
// Negative numbers select everything except the given entries. It returns
// 0-based indices and whether the input was an exclusion list.
func ParseSelectionIndices(input string, max int) ([]int, bool, error) {
	if input == "" {
		return nil, false, nil
	}

	indices := make(map[int]bool)
	exclude := false
	for _, part := range strings.Split(input, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idxStr := part
		if strings.HasPrefix(part, "-") {
			exclude = true
			idxStr = strings.TrimPrefix(part, "-")
		}
		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			return nil, false, fmt.Errorf("invalid number: %s", part)
		}
		if idx <= 0 || idx > max {
			return nil, false, fmt.Errorf("number out of range (1-%d): %d", max, idx)
		}
		indices[idx-1] = true
	}

	var result []int
	if exclude {
		for i := 0; i < max; i++ {
			if !indices[i] {
				result = append(result, i)
			}
		}
	} else {
		for idx := range indices {
			result = append(result, idx)
		}
		sort.Ints(result)
	}
	return result, exclude, nil
}

// AskForSelection prompts for items by number. Empty input, y or a selects
// everything; n or c cancels.
func (p *Prompter) AskForSelection(prompt string, count int) ([]int, bool) {
	all := func() []int {
		idx := make([]int, count)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	if p.AssumeYes {
		return all(), true
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	w := p.Console.writer()
	for {
		fmt.Fprint(w, colArrow.Sprint("-> ")+colNote.Sprint(prompt+" "))
		input, err := p.readLine()
		if err != nil {
			fmt.Fprintln(w)
			return nil, false
		}
		switch strings.ToLower(input) {
		case "", "y", "yes", "a", "all":
			return all(), true
		case "n", "no", "c", "cancel":
			return nil, false
		}

		indices, _, err := ParseSelectionIndices(input, count)
		if err != nil {
			p.Console.Error("%v", err)
			continue
		}
		if len(indices) == 0 {
			p.Console.Warn("No items selected.")
			continue
		}
		return indices, true
	}
}

// AskForOne prompts for a single entry by number. Empty input picks def.
func (p *Prompter) AskForOne(prompt string, count, def int) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := p.Console.writer()
	for {
		fmt.Fprint(w, colArrow.Sprint("-> ")+colNote.Sprintf("%s [%d]: ", prompt, def+1))
		input, err := p.readLine()
		if err != nil {
			fmt.Fprintln(w)
			return 0, false
		}
		switch strings.ToLower(input) {
		case "":
			return def, true
		case "q", "quit", "c", "cancel":
			return 0, false
		}
		indices, exclude, err := ParseSelectionIndices(input, count)
		if err != nil {
			p.Console.Error("%v", err)
			continue
		}
		if exclude || len(indices) != 1 {
			p.Console.Warn("Pick exactly one entry.")
			continue
		}
		return indices[0], true
	}
}
