package moderation

import (
	"bufio"
	"embed"
	"path"
	"strings"
)

//go:embed censored/*
var censoredFS embed.FS

// WordLists is the merged content of the embedded censored files, one
// file per language.
type WordLists struct {
	Languages []string
	Words     []string
}

// LoadEmbeddedWords reads every embedded censored list. Lines are
// trimmed, empty lines and '#' comments skipped, duplicates across
// languages merged.
func LoadEmbeddedWords() (WordLists, error) {
	entries, err := censoredFS.ReadDir("censored")
	if err != nil {
		return WordLists{}, err
	}

	var lists WordLists
	seen := make(map[string]struct{})
	for _, entry := range entries {
		name := entry.Name()
		lists.Languages = append(lists.Languages, strings.TrimSuffix(name, path.Ext(name)))

		f, err := censoredFS.Open(path.Join("censored", name))
		if err != nil {
			return WordLists{}, err
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			word := strings.TrimSpace(scanner.Text())
			if word == "" || strings.HasPrefix(word, "#") {
				continue
			}
			if _, ok := seen[word]; ok {
				continue
			}
			seen[word] = struct{}{}
			lists.Words = append(lists.Words, word)
		}
		_ = f.Close()
		if err := scanner.Err(); err != nil {
			return WordLists{}, err
		}
	}
	return lists, nil
}
