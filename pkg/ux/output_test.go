// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// captureOutput swaps Out and ErrOut for the duration of fn.
func captureOutput(t *testing.T, level PersonalityLevel, fn func()) (stdout, stderr string) {
	t.Helper()
	oldOut, oldErr, oldP := Out, ErrOut, GetPersonality()
	var o, e bytes.Buffer
	Out, ErrOut = &o, &e
	SetPersonality(Personality{Level: level})
	defer func() {
		Out, ErrOut = oldOut, oldErr
		SetPersonality(oldP)
	}()

	fn()
	return o.String(), e.String()
}

// =============================================================================
// Icon.Render Tests
// =============================================================================

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconPending, IconArrow, IconBullet} {
		assert.Contains(t, icon.Render(), string(icon))
	}
}

// =============================================================================
// Line Output Tests
// =============================================================================

func TestLineOutput_MachineMode(t *testing.T) {
	out, errOut := captureOutput(t, PersonalityMachine, func() {
		Title("Topics")
		Success("ingested")
		Warning("indexing skipped")
		Error("server down")
		Info("plain line")
		KeyValue("t-go", "Go")
	})

	assert.Equal(t, "OK: ingested\nplain line\nt-go=Go\n", out)
	assert.Equal(t, "WARN: indexing skipped\nERROR: server down\n", errOut)
}

func TestLineOutput_FullMode(t *testing.T) {
	out, errOut := captureOutput(t, PersonalityFull, func() {
		Title("Topics")
		Success("ingested")
		Warning("indexing skipped")
		Error("server down")
		Info("plain line")
		KeyValue("t-go", "Go")
	})

	assert.Empty(t, errOut, "decorated output stays on stdout")
	for _, want := range []string{"Topics", "ingested", "indexing skipped", "server down", "plain line", "t-go", "Go"} {
		assert.Contains(t, out, want)
	}
	assert.Equal(t, 6, strings.Count(out, "\n"))
}

func TestLineOutput_MinimalMode(t *testing.T) {
	out, _ := captureOutput(t, PersonalityMinimal, func() {
		Success("done")
	})
	assert.Contains(t, out, string(IconSuccess))
	assert.Contains(t, out, "done")
}
