package comicinfo

import (
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"
)

// FileName is the sidecar name ComicRack writes into archives.
const FileName = "ComicInfo.xml"

const coverType = "FrontCover"

// ComicInfo is the ComicRack metadata schema. Numeric fields that fail to
// parse stay zero instead of failing the whole document.
type ComicInfo struct {
	XMLName       xml.Name `xml:"ComicInfo" json:"-"`
	Title         string   `xml:"Title" json:"title,omitempty"`
	Series        string   `xml:"Series" json:"series,omitempty"`
	Summary       string   `xml:"Summary" json:"summary,omitempty"`
	Number        string   `xml:"Number" json:"number,omitempty"`
	Count         Int      `xml:"Count" json:"count,omitempty"`
	Volume        Int      `xml:"Volume" json:"volume,omitempty"`
	PageCount     Int      `xml:"PageCount" json:"pageCount,omitempty"`
	Year          Int      `xml:"Year" json:"year,omitempty"`
	Month         Int      `xml:"Month" json:"month,omitempty"`
	Day           Int      `xml:"Day" json:"day,omitempty"`
	Publisher     string   `xml:"Publisher" json:"publisher,omitempty"`
	Writer        string   `xml:"Writer" json:"writer,omitempty"`
	Penciller     string   `xml:"Penciller" json:"penciller,omitempty"`
	Inker         string   `xml:"Inker" json:"inker,omitempty"`
	Colorist      string   `xml:"Colorist" json:"colorist,omitempty"`
	Letterer      string   `xml:"Letterer" json:"letterer,omitempty"`
	CoverArtist   string   `xml:"CoverArtist" json:"coverArtist,omitempty"`
	Editor        string   `xml:"Editor" json:"editor,omitempty"`
	Imprint       string   `xml:"Imprint" json:"imprint,omitempty"`
	Genre         string   `xml:"Genre" json:"genre,omitempty"`
	Format        string   `xml:"Format" json:"format,omitempty"`
	AgeRating     string   `xml:"AgeRating" json:"ageRating,omitempty"`
	Teams         string   `xml:"Teams" json:"teams,omitempty"`
	Locations     string   `xml:"Locations" json:"locations,omitempty"`
	StoryArc      string   `xml:"StoryArc" json:"storyArc,omitempty"`
	SeriesGroup   string   `xml:"SeriesGroup" json:"seriesGroup,omitempty"`
	BlackAndWhite YesNo    `xml:"BlackAndWhite" json:"blackAndWhite,omitempty"`
	Manga         YesNo    `xml:"Manga" json:"manga,omitempty"`
	Characters    string   `xml:"Characters" json:"characters,omitempty"`
	Web           string   `xml:"Web" json:"web,omitempty"`
	Notes         string   `xml:"Notes" json:"notes,omitempty"`
	LanguageISO   string   `xml:"LanguageISO" json:"languageISO,omitempty"`
	Pages         []Page   `xml:"Pages>Page" json:"pages,omitempty"`
}

type Page struct {
	Image       int    `xml:"Image,attr" json:"image"`
	Type        string `xml:"Type,attr,omitempty" json:"type,omitempty"`
	ImageSize   Int    `xml:"ImageSize,attr,omitempty" json:"imageSize,omitempty"`
	ImageWidth  Int    `xml:"ImageWidth,attr,omitempty" json:"imageWidth,omitempty"`
	ImageHeight Int    `xml:"ImageHeight,attr,omitempty" json:"imageHeight,omitempty"`
}

func (p Page) IsCover() bool {
	return strings.EqualFold(p.Type, coverType)
}

// Int tolerates empty and malformed values.
type Int int

func (i *Int) UnmarshalText(b []byte) error {
	v, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		*i = 0
		return nil
	}
	*i = Int(v)
	return nil
}

// YesNo is the ComicRack tri-state: Unknown, No, Yes. Manga also uses
// "YesAndRightToLeft", which counts as Yes.
type YesNo int

const (
	Unknown YesNo = iota
	No
	Yes
)

func (y *YesNo) UnmarshalText(b []byte) error {
	switch v := strings.ToLower(strings.TrimSpace(string(b))); {
	case strings.HasPrefix(v, "yes"):
		*y = Yes
	case v == "no":
		*y = No
	default:
		*y = Unknown
	}
	return nil
}

func (y YesNo) MarshalText() ([]byte, error) {
	switch y {
	case Yes:
		return []byte("Yes"), nil
	case No:
		return []byte("No"), nil
	default:
		return []byte("Unknown"), nil
	}
}

// Parse decodes a ComicInfo document. Non UTF-8 encodings declared in the
// prolog are converted.
func Parse(r io.Reader) (*ComicInfo, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	var info ComicInfo
	if err := dec.Decode(&info); err != nil {
		return nil, fmt.Errorf("parse comic info: %w", err)
	}
	return &info, nil
}

// CoverPage returns the Image index of the page marked as front cover.
func (c *ComicInfo) CoverPage() (int, bool) {
	if c == nil {
		return 0, false
	}
	for _, p := range c.Pages {
		if p.IsCover() {
			return p.Image, true
		}
	}
	return 0, false
}

// IsFileName matches the sidecar name case-insensitively, ignoring directories.
func IsFileName(name string) bool {
	name = strings.ReplaceAll(name, "\\", "/")
	return strings.EqualFold(path.Base(name), FileName)
}
