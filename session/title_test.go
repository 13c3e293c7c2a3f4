package session_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/recall/session"
)

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`"Quarterly Report"`, "Quarterly Report"},
		{"Title: Lease Agreement Review", "Lease Agreement Review"},
		{"title: 'Onboarding Guide'\nExtra commentary", "Onboarding Guide"},
		{"  Plain  ", "Plain"},
		{`""`, session.FallbackTitle},
		{"", session.FallbackTitle},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, session.CleanTitle(tt.raw))
		})
	}
}

func TestGenerateTitle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.gen.Summary = `Title: "Lease Agreement Review"`

	sid, err := f.manager.Create(ctx)
	require.NoError(t, err)

	title, err := f.manager.GenerateTitle(ctx, sid, strings.Repeat("lease terms ", 100))
	require.NoError(t, err)
	assert.Equal(t, "Lease Agreement Review", title)

	sess, err := f.manager.Get(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, "Lease Agreement Review", sess.Name())

	prompts := f.gen.Prompts()
	last := prompts[len(prompts)-1]
	assert.NotContains(t, last, strings.Repeat("lease terms ", 50), "source text is capped")
}

func TestTitle_CapsSourceByCharacters(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.Summary = "Accented Notes"

	_, err := f.manager.Title(context.Background(), strings.Repeat("é", 600))
	require.NoError(t, err)

	prompts := f.gen.Prompts()
	last := prompts[len(prompts)-1]
	assert.True(t, utf8.ValidString(last))
	assert.Contains(t, last, strings.Repeat("é", session.TitleSourceChars))
	assert.NotContains(t, last, strings.Repeat("é", session.TitleSourceChars+1))
}

func TestGenerateTitle_FallsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.gen.GenerateErr = errors.New("rate limited")

	sid, err := f.manager.Create(ctx)
	require.NoError(t, err)

	title, err := f.manager.GenerateTitle(ctx, sid, "some text")
	require.NoError(t, err)
	assert.Equal(t, session.FallbackTitle, title)

	sess, err := f.manager.Get(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, session.FallbackTitle, sess.DisplayName)
}

func TestGenerateTitle_UnknownSession(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.manager.GenerateTitle(context.Background(), "missing", "text")
	assert.Error(t, err)
}
