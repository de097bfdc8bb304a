package downloader

import "fmt"

// TitlePhase is the loading phase of a title download.
type TitlePhase int

const (
	TitleFetchingData TitlePhase = iota
	TitleStoring
	TitleFetchingCover
)

func (p TitlePhase) String() string {
	switch p {
	case TitleFetchingData:
		return "fetching data"
	case TitleStoring:
		return "storing"
	case TitleFetchingCover:
		return "fetching cover"
	default:
		return fmt.Sprintf("title phase %d", int(p))
	}
}

// CoverPhase is the loading phase of a cover download.
type CoverPhase int

const (
	CoverFetchingData CoverPhase = iota
	CoverFetchingImage
	CoverStoring
)

func (p CoverPhase) String() string {
	switch p {
	case CoverFetchingData:
		return "fetching data"
	case CoverFetchingImage:
		return "fetching image"
	case CoverStoring:
		return "storing"
	default:
		return fmt.Sprintf("cover phase %d", int(p))
	}
}

// ChapterStep is the coarse step of a chapter download.
type ChapterStep int

const (
	ChapterFetchingData ChapterStep = iota
	ChapterRelations
	ChapterFetchingPages
	ChapterPage
	ChapterStoring
)

// ChapterPhase is the loading phase of a chapter download. Page and Pages
// are set during ChapterPage.
type ChapterPhase struct {
	Step  ChapterStep
	Page  int
	Pages int
}

func (p ChapterPhase) String() string {
	switch p.Step {
	case ChapterFetchingData:
		return "fetching data"
	case ChapterRelations:
		return "relations"
	case ChapterFetchingPages:
		return "fetching pages"
	case ChapterPage:
		return fmt.Sprintf("page %d of %d", p.Page, p.Pages)
	case ChapterStoring:
		return "storing"
	default:
		return fmt.Sprintf("chapter step %d", int(p.Step))
	}
}
