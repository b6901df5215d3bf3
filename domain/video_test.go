package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to UploadStatus
		want     bool
	}{
		{UploadStatusNone, UploadStatusURLRequested, true},
		{UploadStatusURLRequested, UploadStatusProcessing, true},
		{UploadStatusNone, UploadStatusProcessing, false},
		{UploadStatusURLRequested, UploadStatusURLRequested, false},
		{UploadStatusProcessing, UploadStatusProcessing, false},
		{UploadStatusProcessing, UploadStatusComplete, false},
		{UploadStatusProcessing, UploadStatusURLRequested, false},
		{UploadStatusComplete, UploadStatusProcessing, false},
		{UploadStatusFailed, UploadStatusURLRequested, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestUploadStatus_Valid(t *testing.T) {
	assert.True(t, UploadStatusProcessing.Valid())
	assert.False(t, UploadStatus("UPLOADING").Valid())
}

func TestVideo_Transition(t *testing.T) {
	v := &Video{ID: "v1"}

	require.NoError(t, v.Transition(UploadStatusURLRequested))
	assert.Equal(t, UploadStatusURLRequested, v.UploadStatus)

	require.NoError(t, v.Transition(UploadStatusProcessing))
	assert.Equal(t, UploadStatusProcessing, v.UploadStatus)

	err := v.Transition(UploadStatusProcessing)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIllegalStateTransition))
	assert.Equal(t, UploadStatusProcessing, v.UploadStatus)
}

func raw(t *testing.T, body string) map[string]json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(body), &m))
	return m
}

func TestSchema_FilterDropsUnknownAndSystemFields(t *testing.T) {
	in := raw(t, `{"title":"a","ownerId":"evil","uploadStatus":"PROCESSING","views":10,"contentType":"video/mp4"}`)

	out := VideoSchema.Filter(in)

	assert.Len(t, out, 2)
	assert.Contains(t, out, "title")
	assert.Contains(t, out, "contentType")
}

func TestSchema_CheckUpdate(t *testing.T) {
	out, err := VideoSchema.CheckUpdate(raw(t, `{"title":"b","likes":3}`))
	require.NoError(t, err)
	assert.Len(t, out, 1)

	_, err = VideoSchema.CheckUpdate(raw(t, `{"title":"b","contentType":"video/webm","ownerId":"x"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	assert.Contains(t, err.Error(), "contentType, ownerId")
}

func TestDecodeMetadata(t *testing.T) {
	meta, ct, err := DecodeMetadata(raw(t, `{
		"title": "Cats",
		"description": "cats being cats",
		"tags": ["cats", "pets"],
		"thumbnailUrl": "https://cdn.example.com/t.jpg",
		"contentType": "video/mp4",
		"userID": "someone-else"
	}`))
	require.NoError(t, err)
	assert.Equal(t, "video/mp4", ct)
	assert.Equal(t, "Cats", meta.Title)
	assert.Equal(t, []string{"cats", "pets"}, meta.Tags)
	assert.Equal(t, "https://cdn.example.com/t.jpg", meta.ThumbnailURL)
}

func TestDecodeMetadata_LegacyFieldNames(t *testing.T) {
	meta, ct, err := DecodeMetadata(raw(t, `{
		"videoTitle": "Cats",
		"desc": "cats being cats",
		"imgURL": "https://cdn.example.com/t.jpg",
		"videoURL": "https://elsewhere.example.com/v.mp4",
		"tags": ["cats"],
		"contentType": "video/mp4"
	}`))
	require.NoError(t, err)
	assert.Equal(t, "video/mp4", ct)
	assert.Equal(t, VideoMetadata{
		Title:        "Cats",
		Description:  "cats being cats",
		Tags:         []string{"cats"},
		ThumbnailURL: "https://cdn.example.com/t.jpg",
	}, meta)
}

func TestSchema_CanonicalNameWinsOverAlias(t *testing.T) {
	for i := 0; i < 20; i++ {
		out := VideoSchema.Filter(raw(t, `{"videoTitle":"old","title":"new","desc":"d"}`))
		assert.Equal(t, map[string]json.RawMessage{
			"title":       json.RawMessage(`"new"`),
			"description": json.RawMessage(`"d"`),
		}, out)
	}
}

func TestSchema_CheckUpdateReportsAliasedSystemField(t *testing.T) {
	_, err := VideoSchema.CheckUpdate(raw(t, `{"videoURL":"x"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storageKey")
}

func TestApplyUpdate(t *testing.T) {
	current := VideoMetadata{Title: "Cats", Description: "old", Tags: []string{"pets"}}

	next, err := ApplyUpdate(current, raw(t, `{"desc":"new","tags":null,"likes":4}`))
	require.NoError(t, err)
	assert.Equal(t, VideoMetadata{Title: "Cats", Description: "new"}, next)

	tests := []struct {
		name string
		body string
	}{
		{"immutable field", `{"title":"x","contentType":"video/webm"}`},
		{"system field", `{"uploadStatus":"COMPLETE"}`},
		{"clears required title", `{"title":null}`},
		{"nothing modifiable", `{"likes":4}`},
		{"invalid thumbnail", `{"imgURL":"nope"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ApplyUpdate(current, raw(t, tt.body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidArgument))
			assert.Equal(t, current, got)
		})
	}
}

func TestDecodeMetadata_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing title", `{"contentType":"video/mp4"}`},
		{"bad thumbnail", `{"title":"x","thumbnailUrl":"not a url"}`},
		{"content type not a string", `{"title":"x","contentType":3}`},
		{"tags wrong type", `{"title":"x","tags":"a,b"}`},
		{"empty tag", `{"title":"x","tags":[""]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeMetadata(raw(t, tt.body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidArgument))
		})
	}
}

func TestKind(t *testing.T) {
	assert.Equal(t, "NotFound", Kind(Wrap(ErrNotFound, "repo", "FindByID", "lookup")))
	assert.Equal(t, "EnqueueFailed", Kind(WrapKind(ErrEnqueueFailed, errors.New("nack"), "kafka", "Publish", "produce")))
	assert.Equal(t, "Internal", Kind(errors.New("boom")))
	assert.Equal(t, "", Kind(nil))
}
