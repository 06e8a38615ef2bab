package deploy

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MichaLL27/shipfix/internal/models"
	"github.com/MichaLL27/shipfix/internal/retry"
)

// StaticProvider deploys a normalized folder to a content-addressed static
// host. Files are referenced by SHA1 digest; only digests the remote reports
// missing are uploaded, then the deployment is resubmitted.
type StaticProvider struct {
	Token   string
	BaseURL string
	HTTP    *http.Client
	Retry   retry.Policy
}

// NewStaticProvider returns a provider pointed at the hosted API.
func NewStaticProvider(token string) *StaticProvider {
	return &StaticProvider{
		Token:   token,
		BaseURL: "https://api.vercel.com",
		HTTP:    &http.Client{Timeout: 60 * time.Second},
		Retry:   retry.DefaultHTTP,
	}
}

// Configured reports whether credentials are present.
func (p *StaticProvider) Configured() bool { return p != nil && p.Token != "" }

// Name identifies the provider in env-sync reports.
func (p *StaticProvider) Name() string { return "vercel" }

type staticFile struct {
	File string `json:"file"`
	SHA  string `json:"sha"`
	Size int64  `json:"size"`
}

type deploymentRequest struct {
	Name  string       `json:"name"`
	Files []staticFile `json:"files"`
}

type deploymentResponse struct {
	ID      string   `json:"id"`
	URL     string   `json:"url"`
	Missing []string `json:"missingFiles,omitempty"`
	Error   *struct {
		Code    string   `json:"code"`
		Message string   `json:"message"`
		Missing []string `json:"missing,omitempty"`
	} `json:"error,omitempty"`
}

// Deploy digests the normalized folder, submits the deployment, uploads any
// blobs the remote is missing, and resubmits. At most one resubmission is
// attempted; digests still missing after that are a hard failure.
func (p *StaticProvider) Deploy(ctx context.Context, project *models.Project, logf func(string, ...any)) (*Result, error) {
	files, byDigest, err := digestTree(project.NormalizedPath)
	if err != nil {
		return nil, fmt.Errorf("digest normalized folder: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("normalized folder %s has no files to deploy", project.NormalizedPath)
	}
	logf("digested %d file(s) for upload", len(files))

	resp, err := p.createDeployment(ctx, project.Name, files)
	if err != nil {
		return nil, err
	}

	missing := resp.missingDigests()
	if len(missing) > 0 {
		logf("remote missing %d blob(s), uploading", len(missing))
		for _, digest := range missing {
			path, ok := byDigest[digest]
			if !ok {
				return nil, fmt.Errorf("remote requested unknown digest %s", digest)
			}
			if err := p.uploadBlob(ctx, digest, path); err != nil {
				return nil, fmt.Errorf("upload blob %s: %w", digest, err)
			}
		}

		resp, err = p.createDeployment(ctx, project.Name, files)
		if err != nil {
			return nil, err
		}
		if still := resp.missingDigests(); len(still) > 0 {
			return nil, fmt.Errorf("%d blob(s) still missing after upload", len(still))
		}
	}

	url := resp.URL
	if url != "" && !strings.HasPrefix(url, "http") {
		url = "https://" + url
	}
	return &Result{Provider: "static", DeployedURL: url, DeployID: resp.ID, Status: "live"}, nil
}

func (r *deploymentResponse) missingDigests() []string {
	if len(r.Missing) > 0 {
		return r.Missing
	}
	if r.Error != nil && r.Error.Code == "missing_files" {
		return r.Error.Missing
	}
	return nil
}

func (p *StaticProvider) createDeployment(ctx context.Context, name string, files []staticFile) (*deploymentResponse, error) {
	body, err := json.Marshal(deploymentRequest{Name: name, Files: files})
	if err != nil {
		return nil, err
	}

	var out deploymentResponse
	err = p.Retry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			p.BaseURL+"/v13/deployments", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+p.Token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.HTTP.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		out = deploymentResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decode deployment response: %w", err)
		}
		// A missing_files response is a protocol step, not a failure.
		if resp.StatusCode >= 400 && len(out.missingDigests()) == 0 {
			if out.Error != nil {
				return fmt.Errorf("create deployment: %s (%s)", out.Error.Message, out.Error.Code)
			}
			return fmt.Errorf("create deployment: status %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *StaticProvider) uploadBlob(ctx context.Context, digest, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return p.Retry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			p.BaseURL+"/v2/files", bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+p.Token)
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("x-vercel-digest", digest)

		resp, err := p.HTTP.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 400 {
			return fmt.Errorf("upload blob: status %d", resp.StatusCode)
		}
		return nil
	})
}

// PublishEnvVars upserts every variable against the remote project, keyed by
// project name and variable key.
func (p *StaticProvider) PublishEnvVars(ctx context.Context, project *models.Project, vars map[string]models.EnvVar) error {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		v := vars[key]
		envType := "plain"
		if v.IsSecret {
			envType = "encrypted"
		}
		body, err := json.Marshal(map[string]any{
			"key":    key,
			"value":  v.Value,
			"type":   envType,
			"target": []string{"production"},
		})
		if err != nil {
			return err
		}

		err = p.Retry.Do(ctx, func() error {
			url := fmt.Sprintf("%s/v10/projects/%s/env?upsert=true", p.BaseURL, project.Name)
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", "Bearer "+p.Token)
			req.Header.Set("Content-Type", "application/json")

			resp, err := p.HTTP.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			io.Copy(io.Discard, resp.Body)

			if resp.StatusCode >= 400 {
				return fmt.Errorf("upsert env %s: status %d", key, resp.StatusCode)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// digestTree hashes every deployable file under root. Returns the file list
// for the deployment request and a digest→path index for blob uploads.
func digestTree(root string) ([]staticFile, map[string]string, error) {
	var files []staticFile
	byDigest := make(map[string]string)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipUploadDirs[d.Name()] && path != root {
				return filepath.SkipDir
			}
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		sum := sha1.Sum(data)
		digest := hex.EncodeToString(sum[:])

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, staticFile{
			File: filepath.ToSlash(rel),
			SHA:  digest,
			Size: int64(len(data)),
		})
		byDigest[digest] = path
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].File < files[j].File })
	return files, byDigest, nil
}

var skipUploadDirs = map[string]bool{
	"node_modules": true, ".git": true, "__pycache__": true,
}
