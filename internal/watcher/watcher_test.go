package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOptions_WithDefaults(t *testing.T) {
	o := Options{}.WithDefaults()
	assert.Equal(t, 500*time.Millisecond, o.DebounceWindow)
	assert.Equal(t, 5*time.Second, o.PollInterval)
	assert.Equal(t, 1024, o.EventBufferSize)

	custom := Options{
		DebounceWindow:  50 * time.Millisecond,
		PollInterval:    time.Second,
		EventBufferSize: 4,
	}.WithDefaults()
	assert.Equal(t, 50*time.Millisecond, custom.DebounceWindow)
	assert.Equal(t, time.Second, custom.PollInterval)
	assert.Equal(t, 4, custom.EventBufferSize)
}

func TestOperation_String(t *testing.T) {
	assert.Equal(t, "CREATE", OpCreate.String())
	assert.Equal(t, "MODIFY", OpModify.String())
	assert.Equal(t, "DELETE", OpDelete.String())
	assert.Equal(t, "RENAME", OpRename.String())
	assert.Equal(t, "UNKNOWN", Operation(99).String())
}

func TestIsStagingFile(t *testing.T) {
	staging := []string{
		"drop/.exhibit.pdf.tmp",
		"drop/exhibit.part",
		"drop/exhibit.partial",
		"drop/exhibit.crdownload",
		"drop/~$deposition.docx",
		"drop/notes.txt~",
		"drop/.DS_Store",
		"drop/.hidden.txt",
		"drop/transcript.swp",
	}
	for _, p := range staging {
		assert.True(t, isStagingFile(p), p)
	}

	landed := []string{
		"drop/exhibit.txt",
		"drop/deposition-2023.srt",
		"drop/thread.eml",
		"tmp-notes.txt", // "tmp" in the name, not the extension
	}
	for _, p := range landed {
		assert.False(t, isStagingFile(p), p)
	}
}

func TestHiddenDir(t *testing.T) {
	assert.True(t, hiddenDir(".caseweave/state.db"))
	assert.True(t, hiddenDir("cases/.git/config"))
	assert.False(t, hiddenDir("cases/2024-cv-100/exhibit.txt"))
	assert.False(t, hiddenDir("exhibit.txt"))
}
