package gdrive

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

// FolderMIME is the MIME type Drive uses for folders
const FolderMIME = "application/vnd.google-apps.folder"

// Node is one Drive item
type Node struct {
	ID       string
	Name     string
	MIMEType string
	Parents  []string
	Size     int64
	Created  time.Time
	Modified time.Time
	Trashed  bool
	Link     string
}

// IsFolder reports whether n is a folder
func (n Node) IsFolder() bool {
	return n.MIMEType == FolderMIME
}

// API is the part of Drive the adapter uses
type API interface {
	RootFolderID(ctx context.Context) (string, error)
	// ListAll returns every item of the drive, trashed items included.
	ListAll(ctx context.Context) ([]Node, error)
	Get(ctx context.Context, id string) (Node, error)
	Download(ctx context.Context, id string) (io.ReadCloser, error)
	// Create makes a new item. content is nil for folders.
	Create(ctx context.Context, meta Node, content io.Reader) (Node, error)
	Update(ctx context.Context, id string, content io.Reader) (Node, error)
	Copy(ctx context.Context, id, name, parent string) (Node, error)
	Move(ctx context.Context, id, name, addParent string, removeParents []string) (Node, error)
	Delete(ctx context.Context, id string) error
	SetTrashed(ctx context.Context, id string, trashed bool) error
	EmptyTrash(ctx context.Context) error
}

const nodeFields = "id,name,mimeType,parents,size,createdTime,modifiedTime,trashed,webContentLink"

// driveAPI implements API over the Drive v3 client
type driveAPI struct {
	files *drive.FilesService
}

// NewAPI wraps a Drive service
func NewAPI(srv *drive.Service) API {
	return &driveAPI{files: srv.Files}
}

func fromDrive(f *drive.File) Node {
	n := Node{
		ID:       f.Id,
		Name:     f.Name,
		MIMEType: f.MimeType,
		Parents:  f.Parents,
		Size:     f.Size,
		Trashed:  f.Trashed,
		Link:     f.WebContentLink,
	}
	n.Created, _ = time.Parse(time.RFC3339, f.CreatedTime)
	n.Modified, _ = time.Parse(time.RFC3339, f.ModifiedTime)
	return n
}

func (d *driveAPI) RootFolderID(ctx context.Context) (string, error) {
	f, err := d.files.Get("root").Fields("id").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return f.Id, nil
}

func (d *driveAPI) ListAll(ctx context.Context) ([]Node, error) {
	var nodes []Node
	call := d.files.List().
		PageSize(1000).
		Fields(googleapi.Field("nextPageToken,files(" + nodeFields + ")"))
	err := call.Pages(ctx, func(page *drive.FileList) error {
		for _, f := range page.Files {
			nodes = append(nodes, fromDrive(f))
		}
		return nil
	})
	return nodes, err
}

func (d *driveAPI) Get(ctx context.Context, id string) (Node, error) {
	f, err := d.files.Get(id).Fields(nodeFields).Context(ctx).Do()
	if err != nil {
		return Node{}, err
	}
	return fromDrive(f), nil
}

func (d *driveAPI) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	resp, err := d.files.Get(id).Context(ctx).Download()
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &googleapi.Error{Code: resp.StatusCode, Message: resp.Status}
	}
	return resp.Body, nil
}

func (d *driveAPI) Create(ctx context.Context, meta Node, content io.Reader) (Node, error) {
	call := d.files.Create(&drive.File{
		Name:     meta.Name,
		MimeType: meta.MIMEType,
		Parents:  meta.Parents,
	}).Fields(nodeFields).Context(ctx)
	if content != nil {
		call = call.Media(content)
	}
	f, err := call.Do()
	if err != nil {
		return Node{}, err
	}
	return fromDrive(f), nil
}

func (d *driveAPI) Update(ctx context.Context, id string, content io.Reader) (Node, error) {
	f, err := d.files.Update(id, &drive.File{}).Media(content).Fields(nodeFields).Context(ctx).Do()
	if err != nil {
		return Node{}, err
	}
	return fromDrive(f), nil
}

func (d *driveAPI) Copy(ctx context.Context, id, name, parent string) (Node, error) {
	f, err := d.files.Copy(id, &drive.File{Name: name, Parents: []string{parent}}).Fields(nodeFields).Context(ctx).Do()
	if err != nil {
		return Node{}, err
	}
	return fromDrive(f), nil
}

func (d *driveAPI) Move(ctx context.Context, id, name, addParent string, removeParents []string) (Node, error) {
	call := d.files.Update(id, &drive.File{Name: name}).Fields(nodeFields).Context(ctx)
	if addParent != "" {
		call = call.AddParents(addParent)
	}
	var remove []string
	for _, p := range removeParents {
		if p != addParent {
			remove = append(remove, p)
		}
	}
	if len(remove) > 0 {
		call = call.RemoveParents(strings.Join(remove, ","))
	}
	f, err := call.Do()
	if err != nil {
		return Node{}, err
	}
	return fromDrive(f), nil
}

func (d *driveAPI) Delete(ctx context.Context, id string) error {
	return d.files.Delete(id).Context(ctx).Do()
}

func (d *driveAPI) SetTrashed(ctx context.Context, id string, trashed bool) error {
	_, err := d.files.Update(id, &drive.File{
		Trashed:         trashed,
		ForceSendFields: []string{"Trashed"},
	}).Context(ctx).Do()
	return err
}

func (d *driveAPI) EmptyTrash(ctx context.Context) error {
	return d.files.EmptyTrash().Context(ctx).Do()
}

// statusCode extracts the HTTP status of a Drive error, or 0
func statusCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}
