// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package supervisor

import (
	"archive/tar"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

// =============================================================================
// RELEASE CHECK
// =============================================================================

// githubRelease is the subset of the releases API response we read.
type githubRelease struct {
	TagName string        `json:"tag_name"`
	Assets  []githubAsset `json:"assets"`
}

type githubAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Release describes an available server release.
type Release struct {
	Version string
	// Assets maps asset file names to download URLs.
	Assets map[string]string
}

// Updater checks for and installs server releases.
type Updater struct {
	// ReleaseURL is the "latest release" API endpoint.
	ReleaseURL string

	// InstallPrefix is the directory the archive extracts into.
	InstallPrefix string

	// CacheDir holds downloaded archives.
	CacheDir string

	// Client defaults to a 10 s-timeout HTTP client.
	Client *http.Client
}

func (u *Updater) httpClient() *http.Client {
	if u.Client != nil {
		return u.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// CheckForUpdate fetches the latest release and reports whether it is
// newer than the given installed version.
func (u *Updater) CheckForUpdate(ctx context.Context, installed string) (*Release, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.ReleaseURL, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := u.httpClient().Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("release check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("release check: HTTP %d", resp.StatusCode)
	}

	var rel githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, false, fmt.Errorf("release check: %w", err)
	}

	out := &Release{
		Version: strings.TrimPrefix(rel.TagName, "v"),
		Assets:  make(map[string]string, len(rel.Assets)),
	}
	for _, a := range rel.Assets {
		out.Assets[a.Name] = a.BrowserDownloadURL
	}
	return out, versionLess(installed, out.Version), nil
}

// versionLess compares dotted numeric versions; unparseable segments
// compare as zero.
func versionLess(a, b string) bool {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var an, bn int
		if i < len(as) {
			an, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bn, _ = strconv.Atoi(bs[i])
		}
		if an != bn {
			return an < bn
		}
	}
	return false
}

// =============================================================================
// DOWNLOAD + INSTALL
// =============================================================================

// Download fetches an asset into the cache directory, reporting the
// fraction downloaded through fn when the server sends a length.
func (u *Updater) Download(ctx context.Context, name, url string, fn func(fraction float64)) (string, error) {
	if err := os.MkdirAll(u.CacheDir, 0755); err != nil {
		return "", err
	}
	dest := filepath.Join(u.CacheDir, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	// Archives are large; no client timeout, the context bounds us.
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: HTTP %d", name, resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var written int64
	buf := make([]byte, 128*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return "", err
			}
			written += int64(n)
			if fn != nil && resp.ContentLength > 0 {
				fn(float64(written) / float64(resp.ContentLength))
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", fmt.Errorf("download %s: %w", name, readErr)
		}
	}
	return dest, nil
}

// Update runs the full release install flow. Whether the previous
// install carried the GPU runtime must be snapshotted before the wipe;
// Install destroys the evidence. When it did, the runtime archive is
// reinstalled on top of the fresh tree.
func (u *Updater) Update(mainArchive, runtimeArchive string) error {
	hadGPU := u.HadGPURuntime()

	if err := u.Install(mainArchive); err != nil {
		return err
	}
	if !hadGPU {
		return nil
	}
	if runtimeArchive == "" {
		return fmt.Errorf("previous install carried the gpu runtime but no runtime archive was provided")
	}
	return u.InstallRuntime(runtimeArchive)
}

// Install wipes the existing install tree and extracts the archive into
// the prefix. Update is the usual entry point; it preserves the GPU
// runtime across the wipe.
func (u *Updater) Install(archivePath string) error {
	if err := os.RemoveAll(u.InstallPrefix); err != nil {
		return fmt.Errorf("remove old install: %w", err)
	}
	if err := os.MkdirAll(u.InstallPrefix, 0755); err != nil {
		return err
	}
	return extractTarZst(archivePath, u.InstallPrefix)
}

// InstallRuntime extracts an auxiliary runtime archive into the prefix
// without wiping it.
func (u *Updater) InstallRuntime(archivePath string) error {
	return extractTarZst(archivePath, u.InstallPrefix)
}

// HadGPURuntime reports whether the ROCm runtime directory exists under
// the install prefix.
func (u *Updater) HadGPURuntime() bool {
	info, err := os.Stat(filepath.Join(u.InstallPrefix, "lib", "ollama", "rocm"))
	return err == nil && info.IsDir()
}

// extractTarZst decompresses a .tar.zst archive into dest, preserving
// directories, file modes and symlinks. Paths escaping dest are rejected.
func extractTarZst(src, dest string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("zstd: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("tar: %w", err)
		}

		target := filepath.Join(dest, header.Name)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) && target != filepath.Clean(dest) {
			return fmt.Errorf("tar: entry %q escapes destination", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(header.Mode)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Symlink(header.Linkname, target); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}
