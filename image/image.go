// Package image exports a volume to a portable image file and restores it.
//
// An image is a CBOR stream: a header describing the volume geometry, one
// frame per non-zero chunk of sectors with its payload compressed by the
// chosen codec, and a final frame carrying the BLAKE3 digest of every
// sector of the volume. All-zero chunks are left out and recreated on
// import.
package image

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/PapiCZ/myfs/vfs"
	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
)

const (
	magic   = "myfs-image"
	version = 1

	// DefaultChunkSectors is the number of sectors per frame.
	DefaultChunkSectors = 64
)

var (
	ErrNotAnImage      = errors.New("not a myfs image")
	ErrDigestMismatch  = errors.New("image digest mismatch")
	ErrGeometry        = errors.New("image does not fit the volume")
	ErrTruncatedStream = errors.New("image ends before its final frame")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("image: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("image: CBOR decoder initialization failed: " + err.Error())
	}
}

type header struct {
	Magic        string `cbor:"1,keyasint"`
	Version      uint   `cbor:"2,keyasint"`
	SectorSize   uint32 `cbor:"3,keyasint"`
	SectorCount  uint32 `cbor:"4,keyasint"`
	ChunkSectors uint32 `cbor:"5,keyasint"`
	Codec        Codec  `cbor:"6,keyasint"`
}

// frame is either a chunk of sectors starting at Sector or, when End is
// set, the trailer with the volume digest.
type frame struct {
	Sector uint32 `cbor:"1,keyasint"`
	Codec  Codec  `cbor:"2,keyasint,omitempty"`
	Size   uint32 `cbor:"3,keyasint,omitempty"`
	Data   []byte `cbor:"4,keyasint,omitempty"`
	End    bool   `cbor:"5,keyasint,omitempty"`
	Digest []byte `cbor:"6,keyasint,omitempty"`
}

type Options struct {
	Codec        Codec
	ChunkSectors uint32
	Log          logrus.FieldLogger
}

// Summary describes an exported or imported image.
type Summary struct {
	SectorSize  uint32
	SectorCount uint32
	Chunks      int
	Skipped     int
	Digest      []byte
}

func logger(log logrus.FieldLogger) logrus.FieldLogger {
	if log != nil {
		return log
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	return discard
}

func isZero(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

// Export writes every sector of v to w.
func Export(w io.Writer, v vfs.Volume, opts Options) (Summary, error) {
	log := logger(opts.Log)
	chunkSectors := opts.ChunkSectors
	if chunkSectors == 0 {
		chunkSectors = DefaultChunkSectors
	}

	ss := v.SectorSize()
	count := v.SectorCount()
	summary := Summary{SectorSize: ss, SectorCount: count}

	encoder := encMode.NewEncoder(w)
	err := encoder.Encode(header{
		Magic:        magic,
		Version:      version,
		SectorSize:   ss,
		SectorCount:  count,
		ChunkSectors: chunkSectors,
		Codec:        opts.Codec,
	})
	if err != nil {
		return summary, fmt.Errorf("writing image header: %w", err)
	}

	hasher := blake3.New()
	buf := make([]byte, chunkSectors*ss)
	for start := uint32(0); start < count; start += chunkSectors {
		n := min(chunkSectors, count-start)
		chunk := buf[:n*ss]
		for i := uint32(0); i < n; i++ {
			if err := v.ReadSector(start+i, chunk[i*ss:(i+1)*ss]); err != nil {
				return summary, fmt.Errorf("reading sector %d: %w", start+i, err)
			}
		}
		_, _ = hasher.Write(chunk)

		if isZero(chunk) {
			summary.Skipped++
			continue
		}

		codec := opts.Codec
		payload, err := compress(chunk, codec)
		if errors.Is(err, errIncompressible) {
			codec, payload = CodecNone, chunk
		} else if err != nil {
			return summary, err
		}

		err = encoder.Encode(frame{Sector: start, Codec: codec, Size: uint32(len(chunk)), Data: payload})
		if err != nil {
			return summary, fmt.Errorf("writing frame at sector %d: %w", start, err)
		}
		summary.Chunks++
	}

	summary.Digest = hasher.Sum(nil)
	if err := encoder.Encode(frame{End: true, Digest: summary.Digest}); err != nil {
		return summary, fmt.Errorf("writing image trailer: %w", err)
	}

	log.WithFields(logrus.Fields{
		"volume":  v.ID(),
		"sectors": count,
		"chunks":  summary.Chunks,
		"skipped": summary.Skipped,
		"codec":   opts.Codec,
	}).Info("volume exported")
	return summary, nil
}

// Import restores an image into v. Sectors of v beyond the image are left
// alone. The volume has already been written when ErrDigestMismatch is
// returned.
func Import(r io.Reader, v vfs.Volume, log logrus.FieldLogger) (Summary, error) {
	log = logger(log)
	decoder := decMode.NewDecoder(r)

	var h header
	if err := decoder.Decode(&h); err != nil {
		return Summary{}, fmt.Errorf("%w: %v", ErrNotAnImage, err)
	}
	if h.Magic != magic || h.Version != version {
		return Summary{}, ErrNotAnImage
	}
	if h.SectorSize != v.SectorSize() || h.SectorCount > v.SectorCount() {
		return Summary{}, fmt.Errorf("%w: image has %d sectors of %d bytes, volume has %d of %d",
			ErrGeometry, h.SectorCount, h.SectorSize, v.SectorCount(), v.SectorSize())
	}

	ss := h.SectorSize
	summary := Summary{SectorSize: ss, SectorCount: h.SectorCount}
	hasher := blake3.New()
	zero := make([]byte, ss)
	next := uint32(0)

	fill := func(until uint32) error {
		for ; next < until; next++ {
			if err := v.WriteSector(next, zero); err != nil {
				return fmt.Errorf("writing sector %d: %w", next, err)
			}
			_, _ = hasher.Write(zero)
		}
		return nil
	}

	for {
		var f frame
		if err := decoder.Decode(&f); err != nil {
			if errors.Is(err, io.EOF) {
				return summary, ErrTruncatedStream
			}
			return summary, fmt.Errorf("reading frame: %w", err)
		}

		if f.End {
			if err := fill(h.SectorCount); err != nil {
				return summary, err
			}
			summary.Digest = hasher.Sum(nil)
			if !bytes.Equal(summary.Digest, f.Digest) {
				return summary, ErrDigestMismatch
			}
			log.WithFields(logrus.Fields{
				"volume":  v.ID(),
				"sectors": h.SectorCount,
				"chunks":  summary.Chunks,
			}).Info("volume imported")
			return summary, nil
		}

		if f.Sector < next || f.Size%ss != 0 || f.Sector+f.Size/ss > h.SectorCount {
			return summary, fmt.Errorf("%w: frame at sector %d with %d bytes is out of place", ErrNotAnImage, f.Sector, f.Size)
		}
		data, err := decompress(f.Data, f.Codec, int(f.Size))
		if err != nil {
			return summary, fmt.Errorf("frame at sector %d: %w", f.Sector, err)
		}

		if err := fill(f.Sector); err != nil {
			return summary, err
		}
		for i := uint32(0); i < f.Size/ss; i++ {
			if err := v.WriteSector(next, data[i*ss:(i+1)*ss]); err != nil {
				return summary, fmt.Errorf("writing sector %d: %w", next, err)
			}
			next++
		}
		_, _ = hasher.Write(data)
		summary.Chunks++
	}
}
