package parcellist

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRemote(t *testing.T) {
	tests := []struct {
		src  string
		want bool
	}{
		{"parcels.csv", false},
		{"/data/parcels.xlsx", false},
		{"C:/data/parcels.csv", false},
		{"http://example.com/parcels.csv", true},
		{"https://example.com/p.txt", true},
		{"ftp://ftp.example.gov/pub/parcels.csv", true},
		{"s3://bucket/parcels.csv", false},
		{"http:///nohost.csv", false},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			assert.Equal(t, tt.want, isRemote(tt.src))
		})
	}
}

func TestRead_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/lists/march.csv", r.URL.Path)
		_, _ = io.WriteString(w, "parcel_id,acres\n111,5\n222,9\n")
	}))
	defer srv.Close()

	ids, err := Read(context.Background(), srv.URL+"/lists/march.csv", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"111", "222"}, ids)
}

func TestRead_HTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := Read(context.Background(), srv.URL+"/missing.csv", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestFTPAddr(t *testing.T) {
	u, err := url.Parse("ftp://ftp.example.gov/pub/parcels.csv")
	require.NoError(t, err)
	assert.Equal(t, "ftp.example.gov:21", ftpAddr(u))

	u, err = url.Parse("ftp://user:pw@ftp.example.gov:2121/parcels.csv")
	require.NoError(t, err)
	assert.Equal(t, "ftp.example.gov:2121", ftpAddr(u))
}

func TestOpenFTP_NoPath(t *testing.T) {
	u, err := url.Parse("ftp://ftp.example.gov/")
	require.NoError(t, err)

	_, err = openFTP(context.Background(), u)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no file path")
}
