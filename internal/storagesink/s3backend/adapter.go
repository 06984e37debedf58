// Package s3backend implements storagesink.Adapter against S3-compatible
// object storage using aws-sdk-go-v2, the same client construction the
// teacher uses for its own S3 archiver (kernel/internal/audit/s3_archiver.go):
// awsConfig.LoadDefaultConfig followed by s3.NewFromConfig, picking up
// credentials and region from the environment or an attached role.
package s3backend

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/arborlabs/kbackup/internal/compression"
	"github.com/arborlabs/kbackup/internal/storagesink"
)

// Adapter implements storagesink.Adapter against one S3 bucket/prefix.
type Adapter struct {
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
}

// New builds an Adapter from the ambient AWS configuration, the same
// LoadDefaultConfig/NewFromConfig pairing as s3_archiver.go.
func New(ctx context.Context, bucket, prefix string) (*Adapter, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3backend: bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("s3backend: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &Adapter{
		bucket:   bucket,
		prefix:   prefix,
		client:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

func (a *Adapter) fullKey(key string) string {
	if a.prefix == "" {
		return key
	}
	return strings.TrimSuffix(a.prefix, "/") + "/" + key
}

// pendingUpload is one in-progress multipart upload discovered by
// ListMultipartUploads, translated from the v1 shapes the Teleport
// s3sessions handler works with (ListUploads) into the v2 SDK's types.
type pendingUpload struct {
	key       string
	uploadID  string
	initiated int64
}

// listPending mirrors ListUploads from s3sessions/s3stream.go: page through
// ListMultipartUploads for the configured prefix, translating v1's manual
// marker loop into v2's equivalent input/output fields.
func (a *Adapter) listPending(ctx context.Context) ([]pendingUpload, error) {
	var out []pendingUpload
	var keyMarker, uploadIDMarker *string
	for {
		var prefix *string
		if a.prefix != "" {
			prefix = aws.String(a.prefix)
		}
		resp, err := a.client.ListMultipartUploads(ctx, &s3.ListMultipartUploadsInput{
			Bucket:         aws.String(a.bucket),
			Prefix:         prefix,
			KeyMarker:      keyMarker,
			UploadIdMarker: uploadIDMarker,
		})
		if err != nil {
			return nil, fmt.Errorf("s3backend: list multipart uploads: %w", err)
		}
		for _, u := range resp.Uploads {
			out = append(out, pendingUpload{
				key:       aws.ToString(u.Key),
				uploadID:  aws.ToString(u.UploadId),
				initiated: u.Initiated.UnixNano(),
			})
		}
		if !aws.ToBool(resp.IsTruncated) {
			break
		}
		keyMarker = resp.NextKeyMarker
		uploadIDMarker = resp.NextUploadIdMarker
	}
	sort.Slice(out, func(i, j int) bool { return out[i].initiated < out[j].initiated })
	return out, nil
}

// metadataFromKey recovers BackupObjectMetadata from an object key's
// extension: ".json.gz" was opened under Gzip, ".json" under None. There is
// no object yet to carry S3 object metadata while a multipart upload is
// still open, so the key itself — chosen once at open time and never
// renamed — is the only durable record of what compression a dangling
// upload started with.
func metadataFromKey(key string) storagesink.ObjectMetadata {
	if strings.HasSuffix(key, ".json.gz") {
		return storagesink.ObjectMetadata{Compression: compression.Gzip}
	}
	return storagesink.ObjectMetadata{Compression: compression.None}
}

// GetCurrentUploadState implements spec.md §4.5's three-shape query: it
// lists every in-progress upload under the prefix and classifies at most
// one as "current" (matches key exactly) and at most one more as
// "previous" (the oldest of whatever else is dangling — by construction
// there should be no more than one, since buckets are written strictly
// sequentially).
func (a *Adapter) GetCurrentUploadState(ctx context.Context, key string) (storagesink.UploadStateResult, error) {
	pending, err := a.listPending(ctx)
	if err != nil {
		return storagesink.UploadStateResult{}, err
	}

	full := a.fullKey(key)
	var current *pendingUpload
	var others []pendingUpload
	for i := range pending {
		if pending[i].key == full {
			current = &pending[i]
		} else {
			others = append(others, pending[i])
		}
	}

	var result storagesink.UploadStateResult
	if current != nil {
		result.Current = &storagesink.CurrentUpload{
			State:    uploadState{uploadID: current.uploadID, key: full},
			Metadata: metadataFromKey(full),
		}
	}
	if len(others) > 0 {
		prev := others[0]
		result.Previous = &storagesink.PreviousUpload{
			State:       uploadState{uploadID: prev.uploadID, key: prev.key},
			Metadata:    metadataFromKey(prev.key),
			PreviousKey: prev.key,
		}
	}
	return result, nil
}

// uploadState is the storagesink.UploadState concrete value this adapter
// hands back and expects to receive again in OpenUpload/TerminateUpload.
type uploadState struct {
	uploadID string
	key      string
}

func (a *Adapter) openMultipart(ctx context.Context, fullKey string) (string, error) {
	out, err := a.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:               aws.String(a.bucket),
		Key:                  aws.String(fullKey),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return "", fmt.Errorf("s3backend: create multipart upload: %w", err)
	}
	return aws.ToString(out.UploadId), nil
}

// OpenUpload opens a fresh multipart upload when current is nil, or resumes
// the one named in current (fetching its already-completed parts via
// ListParts, grounded on s3sessions/s3stream.go's ListParts) otherwise.
func (a *Adapter) OpenUpload(ctx context.Context, key string, current storagesink.UploadState) (storagesink.Upload, error) {
	full := a.fullKey(key)

	if current == nil {
		uploadID, err := a.openMultipart(ctx, full)
		if err != nil {
			return nil, err
		}
		return &upload{client: a.client, bucket: a.bucket, key: full, uploadID: uploadID, nextPart: 1}, nil
	}

	st, ok := current.(uploadState)
	if !ok {
		return nil, fmt.Errorf("s3backend: unrecognized UploadState value %#v", current)
	}

	parts, err := a.listParts(ctx, st.key, st.uploadID)
	if err != nil {
		return nil, err
	}

	u := &upload{client: a.client, bucket: a.bucket, key: st.key, uploadID: st.uploadID, nextPart: int32(len(parts) + 1)}
	u.completed = parts
	return u, nil
}

func (a *Adapter) listParts(ctx context.Context, key, uploadID string) ([]s3types.CompletedPart, error) {
	var out []s3types.CompletedPart
	var marker *int32
	for {
		resp, err := a.client.ListParts(ctx, &s3.ListPartsInput{
			Bucket:           aws.String(a.bucket),
			Key:              aws.String(key),
			UploadId:         aws.String(uploadID),
			PartNumberMarker: marker,
		})
		if err != nil {
			return nil, fmt.Errorf("s3backend: list parts: %w", err)
		}
		for _, p := range resp.Parts {
			out = append(out, s3types.CompletedPart{ETag: p.ETag, PartNumber: p.PartNumber})
		}
		if !aws.ToBool(resp.IsTruncated) {
			break
		}
		marker = resp.NextPartNumberMarker
	}
	sort.Slice(out, func(i, j int) bool { return aws.ToInt32(out[i].PartNumber) < aws.ToInt32(out[j].PartNumber) })
	return out, nil
}

// TerminateUpload writes payload as the final part of a dangling upload and
// completes it, mirroring CompleteUpload from s3sessions/s3stream.go.
func (a *Adapter) TerminateUpload(ctx context.Context, previousKey string, state storagesink.UploadState, payload []byte) (storagesink.BackupResult, error) {
	st, ok := state.(uploadState)
	if !ok {
		return storagesink.BackupResult{}, fmt.Errorf("s3backend: unrecognized UploadState value %#v", state)
	}

	parts, err := a.listParts(ctx, st.key, st.uploadID)
	if err != nil {
		return storagesink.BackupResult{}, err
	}

	u := &upload{client: a.client, bucket: a.bucket, key: st.key, uploadID: st.uploadID, nextPart: int32(len(parts) + 1)}
	u.completed = parts
	if err := u.WritePart(ctx, payload); err != nil {
		return storagesink.BackupResult{}, err
	}
	return u.Complete(ctx)
}

// upload implements storagesink.Upload for one open multipart upload.
type upload struct {
	client    *s3.Client
	bucket    string
	key       string
	uploadID  string
	nextPart  int32
	completed []s3types.CompletedPart
	total     int64
}

// maxPartsPerUpload matches the S3 service limit the teacher's Teleport
// reference guards against in s3sessions/s3stream.go.
const maxPartsPerUpload = 10000

func (u *upload) WritePart(ctx context.Context, p []byte) error {
	if u.nextPart > maxPartsPerUpload {
		return fmt.Errorf("s3backend: upload %s exceeded the %d-part S3 limit", u.uploadID, maxPartsPerUpload)
	}
	out, err := u.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(u.bucket),
		Key:        aws.String(u.key),
		UploadId:   aws.String(u.uploadID),
		PartNumber: aws.Int32(u.nextPart),
		Body:       bytes.NewReader(p),
	})
	if err != nil {
		return fmt.Errorf("s3backend: upload part %d: %w", u.nextPart, err)
	}
	u.completed = append(u.completed, s3types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(u.nextPart)})
	u.total += int64(len(p))
	u.nextPart++
	return nil
}

func (u *upload) Complete(ctx context.Context) (storagesink.BackupResult, error) {
	sort.Slice(u.completed, func(i, j int) bool {
		return aws.ToInt32(u.completed[i].PartNumber) < aws.ToInt32(u.completed[j].PartNumber)
	})
	_, err := u.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(u.bucket),
		Key:             aws.String(u.key),
		UploadId:        aws.String(u.uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: u.completed},
	})
	if err != nil {
		return storagesink.BackupResult{}, fmt.Errorf("s3backend: complete multipart upload: %w", err)
	}
	return storagesink.BackupResult{Key: u.key, PartCount: len(u.completed), TotalBytes: u.total}, nil
}
