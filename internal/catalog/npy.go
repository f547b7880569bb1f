package catalog

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Minimal reader for the NumPy .npy container the ingestion pipeline writes
// its embedding matrix in. Supports the common case only: versions 1.x/2.x,
// little-endian float32 or float64, C order, 2-D shape.

var npyMagic = []byte("\x93NUMPY")

// ReadNPYMatrix decodes a 2-D float matrix from npy data.
func ReadNPYMatrix(r io.Reader) ([][]float32, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("npy: read magic: %w", err)
	}
	if string(header[:6]) != string(npyMagic) {
		return nil, fmt.Errorf("npy: bad magic %q", header[:6])
	}
	major := header[6]

	var headerLen int
	switch {
	case major == 1:
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("npy: read header length: %w", err)
		}
		headerLen = int(n)
	case major >= 2:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("npy: read header length: %w", err)
		}
		headerLen = int(n)
	default:
		return nil, fmt.Errorf("npy: unsupported version %d", major)
	}

	raw := make([]byte, headerLen)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("npy: read header: %w", err)
	}

	descr, fortran, shape, err := parseNPYHeader(string(raw))
	if err != nil {
		return nil, err
	}
	if fortran {
		return nil, fmt.Errorf("npy: fortran order not supported")
	}
	if len(shape) != 2 {
		return nil, fmt.Errorf("npy: expected 2-D matrix, got shape %v", shape)
	}

	var itemSize int
	switch descr {
	case "<f4", "|f4", "f4":
		itemSize = 4
	case "<f8", "|f8", "f8":
		itemSize = 8
	default:
		return nil, fmt.Errorf("npy: unsupported dtype %q", descr)
	}

	rows, cols := shape[0], shape[1]
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("npy: invalid shape %dx%d", rows, cols)
	}
	data := make([]byte, rows*cols*itemSize)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("npy: read %dx%d payload: %w", rows, cols, err)
	}

	out := make([][]float32, rows)
	off := 0
	for i := 0; i < rows; i++ {
		row := make([]float32, cols)
		for j := 0; j < cols; j++ {
			if itemSize == 4 {
				row[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			} else {
				row[j] = float32(math.Float64frombits(binary.LittleEndian.Uint64(data[off:])))
			}
			off += itemSize
		}
		out[i] = row
	}
	return out, nil
}

// parseNPYHeader pulls descr, fortran_order and shape out of the Python dict
// literal that makes up the npy header.
func parseNPYHeader(h string) (descr string, fortran bool, shape []int, err error) {
	descr, err = headerString(h, "descr")
	if err != nil {
		return "", false, nil, err
	}

	fortran = strings.Contains(headerValue(h, "fortran_order"), "True")

	shapeVal := headerValue(h, "shape")
	open := strings.Index(shapeVal, "(")
	closeIdx := strings.Index(shapeVal, ")")
	if open < 0 || closeIdx < open {
		return "", false, nil, fmt.Errorf("npy: malformed shape in header %q", h)
	}
	for _, part := range strings.Split(shapeVal[open+1:closeIdx], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, convErr := strconv.Atoi(part)
		if convErr != nil {
			return "", false, nil, fmt.Errorf("npy: bad shape dimension %q", part)
		}
		shape = append(shape, n)
	}
	return descr, fortran, shape, nil
}

// headerValue returns the raw text following "'key':" up to the next comma at
// dict level (good enough for the three fixed keys numpy writes).
func headerValue(h, key string) string {
	marker := "'" + key + "':"
	i := strings.Index(h, marker)
	if i < 0 {
		return ""
	}
	rest := h[i+len(marker):]
	if key == "shape" {
		end := strings.Index(rest, ")")
		if end < 0 {
			return rest
		}
		return rest[:end+1]
	}
	end := strings.Index(rest, ",")
	if end < 0 {
		return rest
	}
	return rest[:end]
}

func headerString(h, key string) (string, error) {
	v := strings.TrimSpace(headerValue(h, key))
	v = strings.Trim(v, "'\" ")
	if v == "" {
		return "", fmt.Errorf("npy: header missing %q", key)
	}
	return v, nil
}
