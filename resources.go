package quip

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Operation names a client method in Stats.
type Operation string

const (
	OpCallJSON          Operation = "callJson"
	OpCallBinary        Operation = "callBinary"
	OpGetUser           Operation = "getUser"
	OpGetCurrentUser    Operation = "getCurrentUser"
	OpGetFolder         Operation = "getFolder"
	OpGetFolders        Operation = "getFolders"
	OpGetThread         Operation = "getThread"
	OpGetThreads        Operation = "getThreads"
	OpGetThreadMessages Operation = "getThreadMessages"
	OpGetBlob           Operation = "getBlob"
	OpGetPDF            Operation = "getPdf"
	OpGetDOCX           Operation = "getDocx"
	OpGetXLSX           Operation = "getXlsx"
)

// Blob is a binary payload: an attachment or a document export.
type Blob struct {
	ContentType string
	Data        []byte
}

// CheckUser reports whether the token belongs to a user. It makes a single
// attempt without backoff and counts as a current-user call. A non-success
// status yields false with a nil error.
func (c *Client) CheckUser(ctx context.Context) (bool, error) {
	c.count(OpGetCurrentUser)

	resp, _, err := c.roundTrip(ctx, "/users/current", uuid.NewString())
	if err != nil {
		c.totalErrors.Add(1)
		c.log().Error("couldn't check current user", "error", err)
		return false, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log().Debug("current user check failed", "status", resp.StatusCode)
		return false, nil
	}
	return true, nil
}

// GetUser returns one user, or several when id is a comma-separated list.
func (c *Client) GetUser(ctx context.Context, id string) (any, error) {
	c.count(OpGetUser)
	return c.getJSON(ctx, "/users/"+escapeIDs(id))
}

// GetCurrentUser returns the user the token belongs to.
func (c *Client) GetCurrentUser(ctx context.Context) (any, error) {
	c.count(OpGetCurrentUser)
	return c.getJSON(ctx, "/users/current")
}

// GetFolder returns one folder.
func (c *Client) GetFolder(ctx context.Context, id string) (any, error) {
	c.count(OpGetFolder)
	return c.getJSON(ctx, "/folders/"+url.PathEscape(id))
}

// GetFolders returns several folders keyed by id.
func (c *Client) GetFolders(ctx context.Context, ids ...string) (any, error) {
	c.count(OpGetFolders)
	return c.getJSON(ctx, "/folders/?ids="+joinIDs(ids))
}

// GetThread returns one thread.
func (c *Client) GetThread(ctx context.Context, id string) (any, error) {
	c.count(OpGetThread)
	return c.getJSON(ctx, "/threads/"+url.PathEscape(id))
}

// GetThreads returns several threads keyed by id.
func (c *Client) GetThreads(ctx context.Context, ids ...string) (any, error) {
	c.count(OpGetThreads)
	return c.getJSON(ctx, "/threads/?ids="+joinIDs(ids))
}

// GetThreadMessages returns the messages posted on a thread.
func (c *Client) GetThreadMessages(ctx context.Context, threadID string) (any, error) {
	c.count(OpGetThreadMessages)
	return c.getJSON(ctx, "/messages/"+url.PathEscape(threadID))
}

// GetBlob downloads an attachment of a thread.
func (c *Client) GetBlob(ctx context.Context, threadID, blobID string) (*Blob, error) {
	c.count(OpGetBlob)
	return c.fetchBlob(ctx, "/blob/"+url.PathEscape(threadID)+"/"+url.PathEscape(blobID))
}

// GetPDF exports a thread as PDF.
func (c *Client) GetPDF(ctx context.Context, threadID string) (*Blob, error) {
	c.count(OpGetPDF)
	return c.fetchBlob(ctx, exportPath(threadID, "pdf"))
}

// GetDOCX exports a document thread as DOCX.
func (c *Client) GetDOCX(ctx context.Context, threadID string) (*Blob, error) {
	c.count(OpGetDOCX)
	return c.fetchBlob(ctx, exportPath(threadID, "docx"))
}

// GetXLSX exports a spreadsheet thread as XLSX.
func (c *Client) GetXLSX(ctx context.Context, threadID string) (*Blob, error) {
	c.count(OpGetXLSX)
	return c.fetchBlob(ctx, exportPath(threadID, "xlsx"))
}

// Export dispatches to GetPDF, GetDOCX or GetXLSX by format name.
func (c *Client) Export(ctx context.Context, threadID, format string) (*Blob, error) {
	switch strings.ToLower(format) {
	case "pdf":
		return c.GetPDF(ctx, threadID)
	case "docx":
		return c.GetDOCX(ctx, threadID)
	case "xlsx":
		return c.GetXLSX(ctx, threadID)
	default:
		return nil, fmt.Errorf("quip: unsupported export format %q", format)
	}
}

// WriteTo writes the payload to w.
func (b *Blob) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(b.Data)
	return int64(n), err
}

func (c *Client) getJSON(ctx context.Context, path string) (any, error) {
	var v any
	if err := c.fetchJSON(ctx, path, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func exportPath(threadID, format string) string {
	return "/threads/" + url.PathEscape(threadID) + "/export/" + format
}

func joinIDs(ids []string) string {
	escaped := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			escaped = append(escaped, url.QueryEscape(id))
		}
	}
	return strings.Join(escaped, ",")
}

// escapeIDs escapes each element of a comma-separated id list for use in a path.
func escapeIDs(ids string) string {
	parts := strings.Split(ids, ",")
	for i, p := range parts {
		parts[i] = url.PathEscape(strings.TrimSpace(p))
	}
	return strings.Join(parts, ",")
}
