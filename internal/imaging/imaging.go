// Package imaging prepares scanned PDF pages for model consumption. Each
// selected page contributes its embedded scan, capped to the configured
// density, optionally cropped and grayscaled, and encoded as JPEG.
package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // register TIFF decoding for CCITT scans
	_ "image/png"               // register PNG decoding

	"tableocr/internal/logger"
)

// Options controls page preparation. The zero value is not usable
// directly; withDefaults fills unset fields.
type Options struct {
	DPI         int  // Upper density bound; larger scans are downscaled toward it
	CropSides   int  // Pixels cropped from the left and right edges
	Grayscale   bool // Convert pages to grayscale to reduce tokens
	StartPage   int  // 1-based first page, defaults to 1
	MaxPages    int  // Cap on number of pages, 0 means all
	JPEGQuality int  // Encode quality for the transport JPEG
}

func (o Options) withDefaults() Options {
	if o.DPI <= 0 {
		o.DPI = 200
	}
	if o.StartPage < 1 {
		o.StartPage = 1
	}
	if o.JPEGQuality < 1 || o.JPEGQuality > 100 {
		o.JPEGQuality = 85
	}
	return o
}

// PageImage is one prepared page ready for transport.
type PageImage struct {
	Page   int    // 1-based page number in the source document
	Width  int    // Final pixel width
	Height int    // Final pixel height
	MIME   string // Always image/jpeg
	Data   []byte // Encoded image bytes
}

// DataURI encodes the page as a data URI for chat image parts.
func (p PageImage) DataURI() string {
	return "data:" + p.MIME + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
}

// Pages prepares the selected pages of a PDF. The result is deterministic
// for a given input and options. Failures are ImagingErrors: an unreadable
// file, an empty document, a start page past the end, or a page without a
// decodable embedded scan.
func Pages(pdfPath string, opts Options) ([]PageImage, error) {
	const op = "Pages"
	opts = opts.withDefaults()
	log := logger.WithComponent("imaging")

	count, err := api.PageCountFile(pdfPath)
	if err != nil {
		return nil, NewImagingError(op, ErrUnreadable, err.Error())
	}

	selected, err := selectPages(count, opts.StartPage, opts.MaxPages)
	if err != nil {
		return nil, WrapImagingError(op, err, pdfPath)
	}

	dims, err := api.PageDimsFile(pdfPath)
	if err != nil {
		return nil, NewImagingError(op, ErrUnreadable, err.Error())
	}

	scans, err := extractScans(pdfPath, selected, log)
	if err != nil {
		return nil, WrapImagingError(op, err, pdfPath)
	}

	pages := make([]PageImage, 0, len(selected))
	for _, pageNr := range selected {
		src, ok := scans[pageNr]
		if !ok {
			return nil, NewPageError(op, ErrNoPageImage, pageNr)
		}

		widthPts := 0.0
		if pageNr-1 < len(dims) {
			widthPts = dims[pageNr-1].Width
		}

		img := fitToDPI(src, widthPts, opts.DPI)
		img = cropSides(img, opts.CropSides)
		if opts.Grayscale {
			img = toGrayscale(img)
		}

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: opts.JPEGQuality}); err != nil {
			return nil, NewPageError(op, err, pageNr)
		}

		bounds := img.Bounds()
		pages = append(pages, PageImage{
			Page:   pageNr,
			Width:  bounds.Dx(),
			Height: bounds.Dy(),
			MIME:   "image/jpeg",
			Data:   buf.Bytes(),
		})

		log.Debug().
			Int("page", pageNr).
			Int("width", bounds.Dx()).
			Int("height", bounds.Dy()).
			Int("bytes", buf.Len()).
			Msg("Prepared page image")
	}

	log.Info().
		Str("pdf", pdfPath).
		Int("pages", len(pages)).
		Int("dpi", opts.DPI).
		Msg("Prepared page images")

	return pages, nil
}

// FromFile prepares a single raster image file (JPEG, PNG or TIFF) the
// same way PDF pages are prepared: optional side crop, optional
// grayscale, JPEG re-encode. The DPI bound does not apply because a bare
// raster carries no physical page size.
func FromFile(path string, opts Options) (PageImage, error) {
	const op = "FromFile"
	opts = opts.withDefaults()

	f, err := os.Open(path)
	if err != nil {
		return PageImage{}, NewImagingError(op, ErrUnreadable, err.Error())
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return PageImage{}, NewImagingError(op, ErrUnsupportedImage, err.Error())
	}

	img := cropSides(src, opts.CropSides)
	if opts.Grayscale {
		img = toGrayscale(img)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: opts.JPEGQuality}); err != nil {
		return PageImage{}, WrapImagingError(op, err, "encoding JPEG")
	}

	bounds := img.Bounds()
	return PageImage{
		Page:   1,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		MIME:   "image/jpeg",
		Data:   buf.Bytes(),
	}, nil
}

// selectPages resolves the 1-based page numbers to process.
func selectPages(count, startPage, maxPages int) ([]int, error) {
	if count == 0 {
		return nil, ErrNoPages
	}
	if startPage < 1 {
		startPage = 1
	}
	if startPage > count {
		return nil, NewImagingError("selectPages", ErrPageOutOfRange,
			fmt.Sprintf("start page %d, document has %d pages", startPage, count))
	}

	end := count
	if maxPages > 0 && startPage+maxPages-1 < end {
		end = startPage + maxPages - 1
	}

	pages := make([]int, 0, end-startPage+1)
	for p := startPage; p <= end; p++ {
		pages = append(pages, p)
	}
	return pages, nil
}

// extractScans pulls the embedded raster images of the selected pages and
// keeps the largest decodable one per page. Scanned archives embed one
// full-page scan plus the occasional stamp or thumbnail; area decides.
func extractScans(pdfPath string, selected []int, log zerolog.Logger) (map[int]image.Image, error) {
	const op = "extractScans"

	f, err := os.Open(pdfPath)
	if err != nil {
		return nil, NewImagingError(op, ErrUnreadable, err.Error())
	}
	defer f.Close()

	pageSel := make([]string, len(selected))
	wanted := make(map[int]bool, len(selected))
	for i, p := range selected {
		pageSel[i] = strconv.Itoa(p)
		wanted[p] = true
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	extracted, err := api.ExtractImagesRaw(f, pageSel, conf)
	if err != nil {
		return nil, NewImagingError(op, ErrUnreadable, err.Error())
	}

	type candidate struct {
		data []byte
		area int
	}
	best := make(map[int]candidate, len(selected))
	sawImage := make(map[int]bool)

	for _, pageImages := range extracted {
		for _, img := range pageImages {
			if img.Thumb || !wanted[img.PageNr] {
				continue
			}
			sawImage[img.PageNr] = true

			data, err := io.ReadAll(img)
			if err != nil {
				log.Debug().Int("page", img.PageNr).Err(err).Msg("Skipping unreadable embedded image")
				continue
			}
			cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
			if err != nil {
				log.Debug().
					Int("page", img.PageNr).
					Str("type", img.FileType).
					Err(err).
					Msg("Skipping undecodable embedded image")
				continue
			}

			area := cfg.Width * cfg.Height
			if cur, ok := best[img.PageNr]; !ok || area > cur.area {
				best[img.PageNr] = candidate{data: data, area: area}
			}
		}
	}

	scans := make(map[int]image.Image, len(best))
	for pageNr, c := range best {
		img, _, err := image.Decode(bytes.NewReader(c.data))
		if err != nil {
			return nil, NewPageError(op, ErrUnsupportedImage, pageNr)
		}
		scans[pageNr] = img
	}

	// A page whose only scans were undecodable is distinct from a page
	// with no scan at all.
	for _, p := range selected {
		if _, ok := scans[p]; !ok && sawImage[p] {
			return nil, NewPageError(op, ErrUnsupportedImage, p)
		}
	}

	return scans, nil
}

// fitToDPI caps a scan to the pixel width the page would have at the
// target density. Pixels = density * points / 72. Scans within 20% of the
// target are kept as-is, and nothing is ever upscaled.
func fitToDPI(img image.Image, widthPts float64, dpi int) image.Image {
	if widthPts <= 0 || dpi <= 0 {
		return img
	}
	target := int(widthPts / 72.0 * float64(dpi))
	if target < 1 {
		return img
	}

	w := img.Bounds().Dx()
	if float64(w) <= float64(target)*1.2 {
		return img
	}

	scale := float64(target) / float64(w)
	h := int(float64(img.Bounds().Dy()) * scale)
	if h < 1 {
		h = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, target, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// cropSides removes the given number of pixels from the left and right
// edges, where neighbouring pages bleed into the scan. The crop is
// skipped when it would consume the whole width.
func cropSides(img image.Image, px int) image.Image {
	if px <= 0 {
		return img
	}

	b := img.Bounds()
	left, right := b.Min.X+px, b.Max.X-px
	if right <= left {
		return img
	}

	rect := image.Rect(left, b.Min.Y, right, b.Max.Y)
	if sub, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return sub.SubImage(rect)
	}

	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Copy(dst, image.Point{}, img, rect, draw.Src, nil)
	return dst
}

// toGrayscale converts a page to 8-bit grayscale.
func toGrayscale(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
