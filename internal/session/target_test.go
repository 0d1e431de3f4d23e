package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/polmsg-collector/internal/ingest"
)

func TestResolveTarget(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name       string
		identity   string
		kind       ingest.SourceKind
		alternates []string
		wantURL    string
		wantAlts   []string
		wantErr    bool
	}{
		{
			name:     "handle with at sign",
			identity: "@CampaignHQ",
			kind:     ingest.SourceKindSocialPost,
			wantURL:  "https://x.com/CampaignHQ",
			wantAlts: []string{"https://nitter.net/CampaignHQ", "https://mobile.twitter.com/CampaignHQ"},
		},
		{
			name:     "profile url",
			identity: "https://twitter.com/party_news/with_replies",
			kind:     ingest.SourceKindSocialPost,
			wantURL:  "https://x.com/party_news",
			wantAlts: []string{"https://nitter.net/party_news", "https://mobile.twitter.com/party_news"},
		},
		{
			name:       "explicit alternates win",
			identity:   "party_news",
			kind:       ingest.SourceKindSocialPost,
			alternates: []string{"https://mirror.example/party_news"},
			wantURL:    "https://x.com/party_news",
			wantAlts:   []string{"https://mirror.example/party_news"},
		},
		{
			name:     "ad library query",
			identity: "Green Party",
			kind:     ingest.SourceKindSocialAd,
			wantURL:  "https://www.facebook.com/ads/library/?active_status=all&ad_type=political_and_issue_ads&q=Green+Party",
		},
		{
			name:     "website",
			identity: "https://party.example/news",
			kind:     ingest.SourceKindWebsite,
			wantURL:  "https://party.example/news",
		},
		{name: "website needs url", identity: "party.example", kind: ingest.SourceKindWebsite, wantErr: true},
		{name: "bad handle", identity: "not a handle!", kind: ingest.SourceKindSocialPost, wantErr: true},
		{name: "empty", identity: "  ", kind: ingest.SourceKindWebsite, wantErr: true},
		{name: "unknown kind", identity: "x", kind: ingest.SourceKind("forum"), wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ResolveTarget(tc.identity, tc.kind, tc.alternates)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantURL, got.URL)
			require.Equal(t, tc.wantAlts, got.Alternates)
			require.Equal(t, tc.kind, got.Kind)
		})
	}
}
