package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/anchormap/logging"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = iota
	// PCDBinary binary format for pcd.
	PCDBinary
)

const (
	pcdCommentChar = "#"
	// LAS intensity is 16 bit; confidence is stored scaled to its full range.
	maxIntensity = math.MaxUint16
)

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

func colorToPCDInt(p Point) int {
	r, g, b := p.RGB255()
	return int(r)<<16 | int(g)<<8 | int(b)
}

func pcdIntToColor(c int) colorful.Color {
	return colorful.Color{
		R: float64(0xFF&(c>>16)) / 255,
		G: float64(0xFF&(c>>8)) / 255,
		B: float64(0xFF&c) / 255,
	}
}

// WriteToPCD writes points as an unorganized x y z rgb cloud.
func WriteToPCD(points []Point, out io.Writer, outputType PCDType) error {
	data := "ascii"
	if outputType == PCDBinary {
		data = "binary"
	}
	if _, err := fmt.Fprintf(out, "VERSION .7\n"+
		"FIELDS x y z rgb\n"+
		"SIZE 4 4 4 4\n"+
		"TYPE F F F I\n"+
		"COUNT 1 1 1 1\n"+
		"WIDTH %d\n"+
		"HEIGHT 1\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n"+
		"DATA %s\n", len(points), len(points), data); err != nil {
		return err
	}

	buf := make([]byte, 16)
	for _, p := range points {
		var err error
		c := colorToPCDInt(p)
		switch outputType {
		case PCDBinary:
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(p.Position.X)))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(p.Position.Y)))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(p.Position.Z)))
			binary.LittleEndian.PutUint32(buf[12:], uint32(c))
			_, err = out.Write(buf)
		default:
			_, err = fmt.Fprintf(out, "%f %f %f %d\n", p.Position.X, p.Position.Y, p.Position.Z, c)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

type pcdHeader struct {
	fields int
	points uint64
	data   PCDType
}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		switch value {
		case "x y z":
			header.fields = 3
		case "x y z rgb":
			header.fields = 4
		default:
			return errors.Errorf("unsupported pcd fields %s", value)
		}
	case "POINTS":
		points, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid POINTS field %s", value)
		}
		header.points = points
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		default:
			return errors.Errorf("unsupported pcd data type %s", value)
		}
	}
	return nil
}

// ReadPCD reads an ascii or binary x y z [rgb] pcd stream. Confidence is not stored in pcd files
// so every point is read back with full confidence.
func ReadPCD(inRaw io.Reader) ([]Point, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrapf(err, "error reading header line %d", headerLineCount)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}

	points := make([]Point, 0, header.points)
	for i := uint64(0); i < header.points; i++ {
		vals, err := readPCDPoint(in, header)
		if err != nil {
			return nil, errors.Wrapf(err, "point %d", i)
		}
		p := Point{Position: r3.Vector{X: vals[0], Y: vals[1], Z: vals[2]}, Confidence: 1}
		if header.fields == 4 {
			p.Color = pcdIntToColor(int(vals[3]))
			p.HasColor = true
		}
		points = append(points, p)
	}
	return points, nil
}

func readPCDPoint(in *bufio.Reader, header pcdHeader) ([]float64, error) {
	vals := make([]float64, header.fields)
	if header.data == PCDBinary {
		buf := make([]byte, 4*header.fields)
		if _, err := io.ReadFull(in, buf); err != nil {
			return nil, err
		}
		for j := 0; j < 3; j++ {
			vals[j] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4*j:])))
		}
		if header.fields == 4 {
			vals[3] = float64(binary.LittleEndian.Uint32(buf[12:]))
		}
		return vals, nil
	}

	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return nil, err
	}
	tokens := strings.Fields(line)
	if len(tokens) != header.fields {
		return nil, errors.Errorf("expected %d fields, got %d", header.fields, len(tokens))
	}
	for j, token := range tokens {
		if vals[j], err = strconv.ParseFloat(token, 64); err != nil {
			return nil, errors.Wrapf(err, "invalid field %s", token)
		}
	}
	return vals, nil
}

// WriteToLASFile writes points out to a LAS file. Confidence is stored as intensity.
func WriteToLASFile(points []Point, fn string) (err error) {
	lf, err := lidario.NewLasFile(fn, "w")
	if err != nil {
		return
	}
	defer func() {
		cerr := lf.Close()
		err = multierr.Combine(err, cerr)
	}()

	if err = lf.AddHeader(lidario.LasHeader{PointFormatID: 2}); err != nil {
		return
	}

	for _, p := range points {
		pr0 := &lidario.PointRecord0{
			X: p.Position.X,
			Y: p.Position.Y,
			Z: p.Position.Z,
			BitField: lidario.PointBitField{
				Value: (1) | (1 << 3),
			},
			ClassBitField: lidario.ClassificationBitField{
				Value: 0,
			},
			Intensity:     uint16(math.Round(math.Max(0, math.Min(1, p.Confidence)) * maxIntensity)),
			PointSourceID: 1,
		}
		r, g, b := p.RGB255()
		lp := &lidario.PointRecord2{
			PointRecord0: pr0,
			RGB: &lidario.RgbData{
				Red:   uint16(int(r) * 256),
				Green: uint16(int(g) * 256),
				Blue:  uint16(int(b) * 256),
			},
		}
		if err = lf.AddLasPoint(lp); err != nil {
			return
		}
	}
	return nil
}

// NewFromLASFile reads points from a LAS file. Points from formats without color come back
// uncolored.
func NewFromLASFile(fn string, logger logging.Logger) ([]Point, error) {
	lf, err := lidario.NewLasFile(fn, "r")
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(lf.Close)

	points := make([]Point, 0, lf.Header.NumberPoints)
	for i := 0; i < lf.Header.NumberPoints; i++ {
		p, err := lf.LasPoint(i)
		if err != nil {
			return nil, err
		}
		data := p.PointData()
		pt := Point{
			Position:   r3.Vector{X: data.X, Y: data.Y, Z: data.Z},
			Confidence: float64(data.Intensity) / maxIntensity,
		}
		if rgb := p.RgbData(); rgb != nil {
			pt.Color = colorful.Color{
				R: float64(rgb.Red/256) / 255,
				G: float64(rgb.Green/256) / 255,
				B: float64(rgb.Blue/256) / 255,
			}
			pt.HasColor = true
		}
		points = append(points, pt)
	}
	logger.Debugw("read LAS file", "file", fn, "points", len(points))
	return points, nil
}
