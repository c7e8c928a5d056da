package precomputed

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"testing"

	"github.com/klauspost/compress/gzip"
	"gocloud.dev/blob"

	"brainsharer/internal/models"
	"brainsharer/pkg/raster"
	"brainsharer/pkg/stl"
)

func memWriter(t *testing.T, chunk int, gz bool) (*Writer, *blob.Bucket) {
	t.Helper()
	bucket, err := OpenBucket(context.Background(), "mem://")
	if err != nil {
		t.Fatalf("OpenBucket: %v", err)
	}
	t.Cleanup(func() { bucket.Close() })
	return &Writer{Bucket: bucket, ChunkSize: chunk, Gzip: gz}, bucket
}

func testVolume() (*models.LabelVolume, raster.Segmentation) {
	vol := models.NewLabelVolume(3, 5, 2)
	for y := 0; y < 3; y++ {
		for x := 0; x < 5; x++ {
			vol.Set(y, x, 1, uint8(10*y+x))
		}
	}
	seg := raster.Segmentation{
		Size:        [3]int{5, 3, 2},
		VoxelOffset: [3]int{100, 200, 7},
		Resolution:  [3]float64{10400, 10400, 20000},
	}
	return vol, seg
}

func TestNewInfo(t *testing.T) {
	_, seg := testVolume()
	info := NewInfo(seg, 4, false, true)
	data, err := json.Marshal(info)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["@type"] != "neuroglancer_multiscale_volume" || raw["type"] != "segmentation" || raw["data_type"] != "uint8" {
		t.Errorf("unexpected header: %s", data)
	}
	if _, ok := raw["mesh"]; ok {
		t.Errorf("mesh key present without a mesh")
	}
	if raw["segment_properties"] != "segment_properties" {
		t.Errorf("segment_properties = %v", raw["segment_properties"])
	}
	s := info.Scales[0]
	if s.Key != "10400_10400_20000" {
		t.Errorf("key = %q", s.Key)
	}
	if s.ChunkSizes[0] != [3]int{4, 3, 2} {
		t.Errorf("chunk sizes = %v, want clipped to volume", s.ChunkSizes[0])
	}
}

func TestWriteChunks(t *testing.T) {
	ctx := context.Background()
	w, bucket := memWriter(t, 4, false)
	vol, seg := testVolume()
	info := NewInfo(seg, 4, false, false)

	n, err := w.WriteChunks(ctx, info.Scales[0], vol)
	if err != nil {
		t.Fatalf("WriteChunks: %v", err)
	}
	if n != 2 {
		t.Fatalf("wrote %d chunks, want 2", n)
	}

	first, err := bucket.ReadAll(ctx, "10400_10400_20000/100-104_200-203_7-9")
	if err != nil {
		t.Fatalf("read first chunk: %v", err)
	}
	if len(first) != 4*3*2 {
		t.Fatalf("first chunk has %d bytes", len(first))
	}
	// x fastest, then y, then z: slice 1 starts after 12 zero bytes.
	for i := 0; i < 12; i++ {
		if first[i] != 0 {
			t.Fatalf("slice 0 byte %d = %d", i, first[i])
		}
	}
	if first[12] != 0 || first[13] != 1 || first[16] != 10 || first[23] != 23 {
		t.Errorf("slice 1 bytes = %v", first[12:])
	}

	second, err := bucket.ReadAll(ctx, "10400_10400_20000/104-105_200-203_7-9")
	if err != nil {
		t.Fatalf("read second chunk: %v", err)
	}
	if !bytes.Equal(second, []byte{0, 0, 0, 4, 14, 24}) {
		t.Errorf("second chunk = %v", second)
	}
}

func TestWriteChunksSizeMismatch(t *testing.T) {
	w, _ := memWriter(t, 4, false)
	vol, seg := testVolume()
	seg.Size = [3]int{3, 5, 2}
	if _, err := w.WriteChunks(context.Background(), NewInfo(seg, 4, false, false).Scales[0], vol); err == nil {
		t.Fatal("expected error for mismatched size")
	}
}

func TestWriteGzip(t *testing.T) {
	ctx := context.Background()
	w, bucket := memWriter(t, 8, true)
	vol, seg := testVolume()

	if _, err := w.WriteChunks(ctx, NewInfo(seg, 8, false, false).Scales[0], vol); err != nil {
		t.Fatal(err)
	}
	key := "10400_10400_20000/100-105_200-203_7-9"
	attrs, err := bucket.Attributes(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if attrs.ContentEncoding != "gzip" {
		t.Errorf("content encoding = %q", attrs.ContentEncoding)
	}
	data, err := bucket.ReadAll(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("not gzip: %v", err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 30 || raw[29] != 24 {
		t.Errorf("decompressed %d bytes, last %d", len(raw), raw[len(raw)-1])
	}
}

func TestWriteStructure(t *testing.T) {
	ctx := context.Background()
	w, bucket := memWriter(t, 0, false)

	vol := models.NewLabelVolume(1, 1, 1)
	vol.Set(0, 0, 0, 3)
	seg := raster.Segmentation{Size: [3]int{1, 1, 1}, Resolution: [3]float64{1000, 1000, 1000}}
	mesh := stl.IndexedMesh(stl.NewMesher(vol, 3).GenerateTriangles())

	n, err := w.Write(ctx, seg, vol, 3, "SC", &mesh)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 1 {
		t.Errorf("chunks = %d", n)
	}

	var info Info
	data, err := bucket.ReadAll(ctx, "info")
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &info); err != nil {
		t.Fatal(err)
	}
	if info.Mesh != "mesh" || info.Scales[0].ChunkSizes[0] != [3]int{1, 1, 1} {
		t.Errorf("info = %+v", info)
	}

	var props segmentProperties
	data, err = bucket.ReadAll(ctx, "segment_properties/info")
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &props); err != nil {
		t.Fatal(err)
	}
	if len(props.Inline.IDs) != 1 || props.Inline.IDs[0] != "3" || props.Inline.Properties[0].Values[0] != "SC" {
		t.Errorf("segment properties = %+v", props)
	}

	var manifest struct {
		Fragments []string `json:"fragments"`
	}
	data, err = bucket.ReadAll(ctx, "mesh/3:0")
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		t.Fatal(err)
	}
	if len(manifest.Fragments) != 1 {
		t.Fatalf("fragments = %v", manifest.Fragments)
	}
	frag, err := bucket.ReadAll(ctx, "mesh/"+manifest.Fragments[0])
	if err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint32(frag[:4]); got != 8 {
		t.Errorf("vertex count = %d, want 8", got)
	}
	if want := 4 + 8*12 + 36*4; len(frag) != want {
		t.Errorf("fragment length = %d, want %d", len(frag), want)
	}
}
