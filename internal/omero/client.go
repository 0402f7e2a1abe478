// Package omero reads image metadata and rendered planes from an OMERO.web
// server and keeps the user's session alive while jobs are queued.
package omero

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ngbi/ijbatch/internal/config"
	"github.com/ngbi/ijbatch/internal/model"
)

var (
	ErrNotFound    = errors.New("omero: object not found")
	ErrUnsupported = errors.New("omero: unsupported data type")
)

// Repository is the subset of the image server the pipeline needs.
type Repository interface {
	ListImages(ctx context.Context, sel model.Selection) ([]model.Image, error)
	RenderFrame(ctx context.Context, imageID int64, z int, path string) error
	KeepAlive(ctx context.Context, d time.Duration) error
}

// DefaultPingInterval is how often an armed keep-alive pings the server.
const DefaultPingInterval = 5 * time.Minute

// pageSize bounds dataset listings per request.
const pageSize = 200

// Client implements Repository over the OMERO.web JSON API.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	sessionKey   string
	PingInterval time.Duration

	mu        sync.Mutex
	aliveTill time.Time
	stopPing  chan struct{}
}

// NewClient creates a client for the server in cfg.
func NewClient(cfg *config.OmeroConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		sessionKey:   cfg.SessionKey,
		PingInterval: DefaultPingInterval,
	}
}

// IsConfigured returns true if a server URL is set
func (c *Client) IsConfigured() bool {
	return c.baseURL != ""
}

type imgData struct {
	ID   int64 `json:"id"`
	Meta struct {
		ImageName string `json:"imageName"`
		DatasetID *int64 `json:"datasetId"`
	} `json:"meta"`
	Size struct {
		Z int `json:"z"`
	} `json:"size"`
}

type datasetImages struct {
	Data []struct {
		ID     int64  `json:"@id"`
		Name   string `json:"Name"`
		Pixels struct {
			SizeZ int `json:"SizeZ"`
		} `json:"Pixels"`
	} `json:"data"`
	Meta struct {
		TotalCount int `json:"totalCount"`
	} `json:"meta"`
}

// MissingError lists selected IDs the server does not know about.
// ListImages returns it together with the images it did find.
type MissingError struct {
	DataType model.DataType
	IDs      []int64
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("%s ids not found: %v", strings.ToLower(string(e.DataType)), e.IDs)
}

func (e *MissingError) Unwrap() error { return ErrNotFound }

// ListImages resolves sel to images in ID order of the selection. Dataset
// selections expand to every image of each dataset. IDs that do not exist
// are left out and reported through a *MissingError; any other failure
// aborts the listing.
func (c *Client) ListImages(ctx context.Context, sel model.Selection) ([]model.Image, error) {
	var (
		images  []model.Image
		missing []int64
	)
	switch sel.DataType {
	case model.DataTypeImage:
		for _, id := range sel.IDs {
			img, err := c.image(ctx, id)
			if errors.Is(err, ErrNotFound) {
				missing = append(missing, id)
				continue
			}
			if err != nil {
				return nil, err
			}
			images = append(images, img)
		}
	case model.DataTypeDataset:
		for _, id := range sel.IDs {
			imgs, err := c.datasetImages(ctx, id)
			if errors.Is(err, ErrNotFound) {
				missing = append(missing, id)
				continue
			}
			if err != nil {
				return nil, err
			}
			images = append(images, imgs...)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, sel.DataType)
	}
	if len(missing) > 0 {
		return images, &MissingError{DataType: sel.DataType, IDs: missing}
	}
	return images, nil
}

func (c *Client) image(ctx context.Context, id int64) (model.Image, error) {
	var data imgData
	if err := c.getJSON(ctx, fmt.Sprintf("/webgateway/imgData/%d/", id), nil, &data); err != nil {
		return model.Image{}, fmt.Errorf("image %d: %w", id, err)
	}
	img := model.Image{ID: id, Name: data.Meta.ImageName, SizeZ: data.Size.Z}
	if data.Meta.DatasetID != nil {
		img.DatasetID = *data.Meta.DatasetID
	}
	return img, nil
}

func (c *Client) datasetImages(ctx context.Context, datasetID int64) ([]model.Image, error) {
	var images []model.Image
	for offset := 0; ; offset += pageSize {
		q := url.Values{}
		q.Set("limit", fmt.Sprint(pageSize))
		q.Set("offset", fmt.Sprint(offset))

		var page datasetImages
		if err := c.getJSON(ctx, fmt.Sprintf("/api/v0/m/datasets/%d/images/", datasetID), q, &page); err != nil {
			return nil, fmt.Errorf("dataset %d: %w", datasetID, err)
		}
		for _, d := range page.Data {
			images = append(images, model.Image{
				ID:        d.ID,
				DatasetID: datasetID,
				Name:      d.Name,
				SizeZ:     d.Pixels.SizeZ,
			})
		}
		if len(page.Data) == 0 || offset+len(page.Data) >= page.Meta.TotalCount {
			return images, nil
		}
	}
}

// RenderFrame renders plane z (timepoint 0) as TIFF into path. The file is
// created exclusively and removed again if the download fails.
func (c *Client) RenderFrame(ctx context.Context, imageID int64, z int, path string) (err error) {
	q := url.Values{}
	q.Set("format", "tif")
	resp, err := c.get(ctx, fmt.Sprintf("/webgateway/render_image/%d/%d/0/", imageID, z), q)
	if err != nil {
		return fmt.Errorf("render image %d plane %d: %w", imageID, z, err)
	}
	defer resp.Body.Close()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("render image %d plane %d: %w", imageID, z, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("render image %d plane %d: write %s: %w", imageID, z, path, err)
	}
	return nil
}

// KeepAlive pings the server once and, if d is positive, keeps pinging every
// PingInterval until d has elapsed or Close is called. Calling it again
// extends the window.
func (c *Client) KeepAlive(ctx context.Context, d time.Duration) error {
	if err := c.ping(ctx); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	till := time.Now().Add(d)
	if till.After(c.aliveTill) {
		c.aliveTill = till
	}
	if c.stopPing != nil {
		return nil
	}
	stop := make(chan struct{})
	c.stopPing = stop
	go c.pingLoop(stop)
	return nil
}

func (c *Client) pingLoop(stop chan struct{}) {
	interval := c.PingInterval
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			expired := now.After(c.aliveTill)
			if expired {
				c.stopPing = nil
			}
			c.mu.Unlock()
			if expired {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), c.httpClient.Timeout)
			_ = c.ping(ctx)
			cancel()
		}
	}
}

// Close stops any armed keep-alive.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopPing != nil {
		close(c.stopPing)
		c.stopPing = nil
	}
}

func (c *Client) ping(ctx context.Context) error {
	resp, err := c.get(ctx, "/webclient/keepalive_ping/", nil)
	if err != nil {
		return fmt.Errorf("keepalive: %w", err)
	}
	resp.Body.Close()
	return nil
}

// get issues an authenticated GET and returns the response on any 2xx status.
func (c *Client) get(ctx context.Context, endpoint string, q url.Values) (*http.Response, error) {
	u := c.baseURL + endpoint
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.sessionKey != "" {
		req.AddCookie(&http.Cookie{Name: "sessionid", Value: c.sessionKey})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("omero error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, q url.Values, result interface{}) error {
	resp, err := c.get(ctx, endpoint, q)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
