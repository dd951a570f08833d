package gcsarchive

import "testing"

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantObject string
		wantErr    bool
	}{
		{uri: "gs://bucket/path/to/msg.eml", wantBucket: "bucket", wantObject: "path/to/msg.eml"},
		{uri: "gs://bucket/", wantBucket: "bucket", wantObject: ""},
		{uri: "gs://bucket", wantBucket: "bucket", wantObject: ""},
		{uri: "gs:///object", wantErr: true},
		{uri: "/local/path", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, object, err := ParseURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseURI(%q) error = %v, wantErr %v", tt.uri, err, tt.wantErr)
			}
			if bucket != tt.wantBucket || object != tt.wantObject {
				t.Errorf("ParseURI(%q) = (%q, %q), want (%q, %q)", tt.uri, bucket, object, tt.wantBucket, tt.wantObject)
			}
		})
	}
}

func TestURI(t *testing.T) {
	if got := URI("b", "/digests/2024-08-15.txt"); got != "gs://b/digests/2024-08-15.txt" {
		t.Errorf("URI() = %q", got)
	}
}

func TestFilenameFromURI(t *testing.T) {
	tests := map[string]string{
		"gs://bucket/folder/msg.eml": "msg.eml",
		"gs://bucket/msg.eml":        "msg.eml",
		"gs://bucket":                "bucket",
	}
	for uri, want := range tests {
		if got := FilenameFromURI(uri); got != want {
			t.Errorf("FilenameFromURI(%q) = %q, want %q", uri, got, want)
		}
	}
}
