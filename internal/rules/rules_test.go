package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/percebe/percebe/internal/mailcodec"
	"github.com/percebe/percebe/internal/store"
)

func TestMatches(t *testing.T) {
	cases := []struct {
		name string
		msg  mailcodec.Message
		rule store.Rule
		want bool
	}{
		{
			name: "empty filters match any message",
			msg:  mailcodec.Message{From: "bob@a.com", Subject: "Your invoice"},
			rule: store.Rule{Recipients: []string{"t@z"}},
			want: true,
		},
		{
			name: "sender substring match is case-insensitive",
			msg:  mailcodec.Message{From: "Bob <BOB@A.COM>", Subject: "hi"},
			rule: store.Rule{Senders: []string{"@a.com"}},
			want: true,
		},
		{
			name: "sender filter rejects non-matching sender",
			msg:  mailcodec.Message{From: "bob@other.com", Subject: "hi"},
			rule: store.Rule{Senders: []string{"@a.com"}},
			want: false,
		},
		{
			name: "subject keyword match is case-insensitive",
			msg:  mailcodec.Message{From: "bob@a.com", Subject: "Your Invoice is ready"},
			rule: store.Rule{SubjectKeywords: []string{"invoice"}},
			want: true,
		},
		{
			name: "both filters must pass",
			msg:  mailcodec.Message{From: "bob@a.com", Subject: "hello"},
			rule: store.Rule{Senders: []string{"@a.com"}, SubjectKeywords: []string{"invoice"}},
			want: false,
		},
		{
			name: "sender and subject filters both passing match",
			msg:  mailcodec.Message{From: "bob@a.com", Subject: "invoice attached"},
			rule: store.Rule{Senders: []string{"@a.com"}, SubjectKeywords: []string{"invoice"}},
			want: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Matches(tc.msg, tc.rule))
		})
	}
}

func TestMatchesIsDeterministic(t *testing.T) {
	msg := mailcodec.Message{From: "bob@a.com", Subject: "Your invoice"}
	rule := store.Rule{Senders: []string{"@a.com"}, SubjectKeywords: []string{"invoice"}}

	first := Matches(msg, rule)
	second := Matches(msg, rule)
	assert.Equal(t, first, second)
	assert.True(t, first)
}
