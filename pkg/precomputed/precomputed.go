// Package precomputed writes rasterized structures as Neuroglancer
// precomputed segmentations to a blob bucket.
package precomputed

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// buckets
	_ "gocloud.dev/blob/memblob"  // mem:// buckets

	"brainsharer/internal/models"
	"brainsharer/pkg/raster"
	"brainsharer/pkg/stl"
)

// DefaultChunkSize is the chunk edge length used when none is configured.
const DefaultChunkSize = 64

// Scale is one resolution level of the info file.
type Scale struct {
	ChunkSizes  [][3]int   `json:"chunk_sizes"`
	Encoding    string     `json:"encoding"`
	Key         string     `json:"key"`
	Resolution  [3]float64 `json:"resolution"`
	Size        [3]int     `json:"size"`
	VoxelOffset [3]int     `json:"voxel_offset"`
}

// Info is the top-level info file of a segmentation.
type Info struct {
	StoreType         string  `json:"@type"`
	VolumeType        string  `json:"type"`
	DataType          string  `json:"data_type"`
	NumChannels       int     `json:"num_channels"`
	Scales            []Scale `json:"scales"`
	Mesh              string  `json:"mesh,omitempty"`
	SegmentProperties string  `json:"segment_properties,omitempty"`
}

// OpenBucket opens a bucket URL such as file:///data/structures or mem://.
// Local directories are created if missing.
func OpenBucket(ctx context.Context, bucketURL string) (*blob.Bucket, error) {
	u, err := url.Parse(bucketURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse bucket url %q", bucketURL)
	}
	if u.Scheme == "file" {
		if err := os.MkdirAll(u.Path, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create bucket directory %s", u.Path)
		}
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, errors.Wrapf(err, "open bucket %q", bucketURL)
	}
	return bucket, nil
}

// Writer writes one segmentation into a bucket. Keys are relative to the
// bucket root, so callers give each structure its own prefixed bucket.
type Writer struct {
	Bucket    *blob.Bucket
	ChunkSize int
	Gzip      bool
}

func (w *Writer) chunkSize() int {
	if w.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return w.ChunkSize
}

// ScaleKey names the directory of a resolution level the way CloudVolume
// does: the resolution in whole nanometres joined by underscores.
func ScaleKey(resolution [3]float64) string {
	return fmt.Sprintf("%d_%d_%d", int(resolution[0]), int(resolution[1]), int(resolution[2]))
}

// NewInfo describes a uint8 segmentation with one scale.
func NewInfo(seg raster.Segmentation, chunkSize int, mesh, properties bool) Info {
	c := [3]int{chunkSize, chunkSize, chunkSize}
	for i := range c {
		if seg.Size[i] > 0 && seg.Size[i] < c[i] {
			c[i] = seg.Size[i]
		}
	}
	info := Info{
		StoreType:   "neuroglancer_multiscale_volume",
		VolumeType:  "segmentation",
		DataType:    "uint8",
		NumChannels: 1,
		Scales: []Scale{{
			ChunkSizes:  [][3]int{c},
			Encoding:    "raw",
			Key:         ScaleKey(seg.Resolution),
			Resolution:  seg.Resolution,
			Size:        seg.Size,
			VoxelOffset: seg.VoxelOffset,
		}},
	}
	if mesh {
		info.Mesh = "mesh"
	}
	if properties {
		info.SegmentProperties = "segment_properties"
	}
	return info
}

func (w *Writer) writeJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	return errors.Wrapf(w.Bucket.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: "application/json"}), "write %s", key)
}

// WriteInfo writes the info file.
func (w *Writer) WriteInfo(ctx context.Context, info Info) error {
	return w.writeJSON(ctx, "info", info)
}

// WriteChunks splits the volume into chunks and writes each one as raw
// little-endian voxels with x varying fastest. Chunk keys use absolute voxel
// coordinates: <scale key>/x0-x1_y0-y1_z0-z1.
func (w *Writer) WriteChunks(ctx context.Context, scale Scale, vol *models.LabelVolume) (int, error) {
	c := scale.ChunkSizes[0]
	size := [3]int{vol.Width, vol.Height, vol.Depth}
	if size != scale.Size {
		return 0, errors.Errorf("volume size %v does not match scale size %v", size, scale.Size)
	}
	written := 0
	for z0 := 0; z0 < size[2]; z0 += c[2] {
		for y0 := 0; y0 < size[1]; y0 += c[1] {
			for x0 := 0; x0 < size[0]; x0 += c[0] {
				x1, y1, z1 := minInt(x0+c[0], size[0]), minInt(y0+c[1], size[1]), minInt(z0+c[2], size[2])
				buf := make([]byte, 0, (x1-x0)*(y1-y0)*(z1-z0))
				for z := z0; z < z1; z++ {
					for y := y0; y < y1; y++ {
						for x := x0; x < x1; x++ {
							buf = append(buf, vol.At(y, x, z))
						}
					}
				}
				off := scale.VoxelOffset
				key := fmt.Sprintf("%s/%d-%d_%d-%d_%d-%d", scale.Key,
					off[0]+x0, off[0]+x1, off[1]+y0, off[1]+y1, off[2]+z0, off[2]+z1)
				if err := w.writeChunk(ctx, key, buf); err != nil {
					return written, err
				}
				written++
			}
		}
	}
	return written, nil
}

func (w *Writer) writeChunk(ctx context.Context, key string, data []byte) error {
	opts := &blob.WriterOptions{ContentType: "application/octet-stream"}
	if w.Gzip {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return errors.Wrapf(err, "compress %s", key)
		}
		if err := zw.Close(); err != nil {
			return errors.Wrapf(err, "compress %s", key)
		}
		data = buf.Bytes()
		opts.ContentEncoding = "gzip"
	}
	return errors.Wrapf(w.Bucket.WriteAll(ctx, key, data, opts), "write chunk %s", key)
}

type segmentProperties struct {
	Type   string `json:"@type"`
	Inline struct {
		IDs        []string   `json:"ids"`
		Properties []property `json:"properties"`
	} `json:"inline"`
}

type property struct {
	ID     string   `json:"id"`
	Type   string   `json:"type"`
	Values []string `json:"values"`
}

// WriteSegmentProperties writes the label names shown in the viewer's
// segment list.
func (w *Writer) WriteSegmentProperties(ctx context.Context, names map[uint8]string) error {
	labels := make([]int, 0, len(names))
	for label := range names {
		labels = append(labels, int(label))
	}
	sort.Ints(labels)

	var props segmentProperties
	props.Type = "neuroglancer_segment_properties"
	values := property{ID: "label", Type: "label"}
	for _, label := range labels {
		props.Inline.IDs = append(props.Inline.IDs, strconv.Itoa(label))
		values.Values = append(values.Values, names[uint8(label)])
	}
	props.Inline.Properties = []property{values}
	return w.writeJSON(ctx, "segment_properties/info", props)
}

// WriteMesh writes a legacy single-resolution mesh for one label: a manifest
// at mesh/<label>:0 and one fragment of little-endian vertex count, float32
// vertices and uint32 triangle indices.
func (w *Writer) WriteMesh(ctx context.Context, label uint8, mesh stl.Mesh) error {
	if err := w.writeJSON(ctx, "mesh/info", map[string]string{"@type": "neuroglancer_legacy_mesh"}); err != nil {
		return err
	}
	fragment := fmt.Sprintf("%d:0:0", label)
	manifest := map[string][]string{"fragments": {fragment}}
	if err := w.writeJSON(ctx, fmt.Sprintf("mesh/%d:0", label), manifest); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(mesh.Vertices))); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.LittleEndian, mesh.Vertices); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.LittleEndian, mesh.Indices); err != nil {
		return err
	}
	return errors.Wrapf(w.Bucket.WriteAll(ctx, "mesh/"+fragment, buf.Bytes(), nil), "write mesh fragment %s", fragment)
}

// Write stores a complete structure: info, chunks, label name and,
// if given, its mesh. It returns the number of chunks written.
func (w *Writer) Write(ctx context.Context, seg raster.Segmentation, vol *models.LabelVolume, label uint8, name string, mesh *stl.Mesh) (int, error) {
	info := NewInfo(seg, w.chunkSize(), mesh != nil, name != "")
	if err := w.WriteInfo(ctx, info); err != nil {
		return 0, err
	}
	n, err := w.WriteChunks(ctx, info.Scales[0], vol)
	if err != nil {
		return n, err
	}
	if name != "" {
		if err := w.WriteSegmentProperties(ctx, map[uint8]string{label: name}); err != nil {
			return n, err
		}
	}
	if mesh != nil {
		if err := w.WriteMesh(ctx, label, *mesh); err != nil {
			return n, err
		}
	}
	return n, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
