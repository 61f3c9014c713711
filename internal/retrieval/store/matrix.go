package store

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"time"

	"github.com/joecupano/airgap-lab-ai/internal/retrieval/index"
)

// Matrix file layout, little endian:
//
//	header  64 bytes  magic, version, rows, cols, nnz, created, build id length
//	payload           build id, indptr (rows+1 × u64), indices (nnz × u32), data (nnz × f64)
//	footer  16 bytes  crc32 of payload, reserved, rows
const (
	MatrixMagic         uint32 = 0x53504D58
	MatrixFormatVersion uint32 = 1
	MatrixHeaderSize    int    = 64
	MatrixFooterSize    int    = 16
)

// MatrixHeader is the fixed-size prefix of a matrix file.
type MatrixHeader struct {
	Magic      uint32
	Version    uint32
	Rows       uint64
	Cols       uint64
	NNZ        uint64
	CreatedAt  int64
	BuildIDLen uint32
}

func (h MatrixHeader) payloadSize() (int64, error) {
	if h.Rows > math.MaxInt32 || h.NNZ > math.MaxInt32 || h.Cols > math.MaxInt32 {
		return 0, fmt.Errorf("matrix shape %dx%d with %d entries is out of range", h.Rows, h.Cols, h.NNZ)
	}
	return int64(h.BuildIDLen) + int64(h.Rows+1)*8 + int64(h.NNZ)*12, nil
}

func encodeHeader(h MatrixHeader) []byte {
	buf := make([]byte, MatrixHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint64(buf[8:16], h.Rows)
	binary.LittleEndian.PutUint64(buf[16:24], h.Cols)
	binary.LittleEndian.PutUint64(buf[24:32], h.NNZ)
	binary.LittleEndian.PutUint64(buf[32:40], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint32(buf[40:44], h.BuildIDLen)
	return buf
}

func decodeHeader(buf []byte) (MatrixHeader, error) {
	if len(buf) < MatrixHeaderSize {
		return MatrixHeader{}, fmt.Errorf("invalid matrix file: short header (%d bytes)", len(buf))
	}
	h := MatrixHeader{
		Magic:      binary.LittleEndian.Uint32(buf[0:4]),
		Version:    binary.LittleEndian.Uint32(buf[4:8]),
		Rows:       binary.LittleEndian.Uint64(buf[8:16]),
		Cols:       binary.LittleEndian.Uint64(buf[16:24]),
		NNZ:        binary.LittleEndian.Uint64(buf[24:32]),
		CreatedAt:  int64(binary.LittleEndian.Uint64(buf[32:40])),
		BuildIDLen: binary.LittleEndian.Uint32(buf[40:44]),
	}
	if h.Magic != MatrixMagic {
		return h, fmt.Errorf("invalid matrix file: bad magic bytes %x", h.Magic)
	}
	if h.Version != MatrixFormatVersion {
		return h, fmt.Errorf("unsupported matrix format version %d", h.Version)
	}
	return h, nil
}

// writeMatrix serialises m to path and fsyncs it.
func writeMatrix(path, buildID string, m *index.Matrix) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating matrix file: %w", err)
	}
	defer f.Close()

	header := MatrixHeader{
		Magic:      MatrixMagic,
		Version:    MatrixFormatVersion,
		Rows:       uint64(m.Rows),
		Cols:       uint64(m.Cols),
		NNZ:        uint64(m.NNZ()),
		CreatedAt:  time.Now().Unix(),
		BuildIDLen: uint32(len(buildID)),
	}
	bw := bufio.NewWriter(f)
	if _, err := bw.Write(encodeHeader(header)); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	crc := crc32.NewIEEE()
	w := io.MultiWriter(bw, crc)
	if _, err := io.WriteString(w, buildID); err != nil {
		return fmt.Errorf("writing build id: %w", err)
	}
	var scratch [8]byte
	for _, p := range m.Indptr {
		binary.LittleEndian.PutUint64(scratch[:], uint64(p))
		if _, err := w.Write(scratch[:8]); err != nil {
			return fmt.Errorf("writing indptr: %w", err)
		}
	}
	for _, col := range m.Indices {
		binary.LittleEndian.PutUint32(scratch[:4], uint32(col))
		if _, err := w.Write(scratch[:4]); err != nil {
			return fmt.Errorf("writing indices: %w", err)
		}
	}
	for _, v := range m.Data {
		binary.LittleEndian.PutUint64(scratch[:], math.Float64bits(v))
		if _, err := w.Write(scratch[:8]); err != nil {
			return fmt.Errorf("writing data: %w", err)
		}
	}

	footer := make([]byte, MatrixFooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc.Sum32())
	binary.LittleEndian.PutUint64(footer[8:16], uint64(m.Rows))
	if _, err := bw.Write(footer); err != nil {
		return fmt.Errorf("writing footer: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flushing matrix file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing matrix file: %w", err)
	}
	return f.Close()
}

// readMatrixHeader parses only the header, checking the file is long enough
// to hold what the header announces.
func readMatrixHeader(path string) (MatrixHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return MatrixHeader{}, fmt.Errorf("opening matrix file: %w", err)
	}
	defer f.Close()
	buf := make([]byte, MatrixHeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return MatrixHeader{}, fmt.Errorf("reading matrix header: %w", err)
	}
	h, err := decodeHeader(buf)
	if err != nil {
		return h, err
	}
	info, err := f.Stat()
	if err != nil {
		return h, fmt.Errorf("stat matrix file: %w", err)
	}
	payload, err := h.payloadSize()
	if err != nil {
		return h, err
	}
	if want := int64(MatrixHeaderSize) + payload + int64(MatrixFooterSize); info.Size() != want {
		return h, fmt.Errorf("matrix file is %d bytes, header implies %d", info.Size(), want)
	}
	return h, nil
}

// readMatrix loads and checksums a matrix file.
func readMatrix(path string) (*index.Matrix, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading matrix file: %w", err)
	}
	h, err := decodeHeader(raw)
	if err != nil {
		return nil, "", err
	}
	payload, err := h.payloadSize()
	if err != nil {
		return nil, "", err
	}
	if want := int64(MatrixHeaderSize) + payload + int64(MatrixFooterSize); int64(len(raw)) != want {
		return nil, "", fmt.Errorf("matrix file is %d bytes, header implies %d", len(raw), want)
	}

	body := raw[MatrixHeaderSize : MatrixHeaderSize+int(payload)]
	footer := raw[MatrixHeaderSize+int(payload):]
	if got, want := crc32.ChecksumIEEE(body), binary.LittleEndian.Uint32(footer[0:4]); got != want {
		return nil, "", fmt.Errorf("matrix checksum mismatch: got %08x, want %08x", got, want)
	}
	if rows := binary.LittleEndian.Uint64(footer[8:16]); rows != h.Rows {
		return nil, "", fmt.Errorf("matrix footer rows %d disagree with header %d", rows, h.Rows)
	}

	off := 0
	buildID := string(body[:h.BuildIDLen])
	off += int(h.BuildIDLen)

	m := &index.Matrix{
		Rows:    int(h.Rows),
		Cols:    int(h.Cols),
		Indptr:  make([]int, h.Rows+1),
		Indices: make([]int32, h.NNZ),
		Data:    make([]float64, h.NNZ),
	}
	for i := range m.Indptr {
		p := binary.LittleEndian.Uint64(body[off:])
		if p > h.NNZ {
			return nil, "", fmt.Errorf("indptr[%d] = %d exceeds %d entries", i, p, h.NNZ)
		}
		m.Indptr[i] = int(p)
		off += 8
	}
	for i := range m.Indices {
		m.Indices[i] = int32(binary.LittleEndian.Uint32(body[off:]))
		off += 4
	}
	for i := range m.Data {
		m.Data[i] = math.Float64frombits(binary.LittleEndian.Uint64(body[off:]))
		off += 8
	}
	if err := m.Validate(); err != nil {
		return nil, "", err
	}
	return m, buildID, nil
}
