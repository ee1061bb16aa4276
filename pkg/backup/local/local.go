// Package local is a filesystem-backed backup engine. Packages are
// brotli-compressed tar archives laid out like Moodle backups: a
// moodle_backup.xml manifest at the root and the course payload under
// course/course.xml. It serves development setups and tests; production
// deployments point the pipeline at the real engine instead.
package local

import (
	"archive/tar"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/coursemirror/pkg/backup"
	"github.com/walteh/coursemirror/pkg/lms"
)

// Engine implements backup.Engine on the local filesystem.
type Engine struct {
	repo       lms.Repository
	packageDir string // where compressed packages are written
	stagingDir string // where restore plans expect extracted packages

	compress func(io.Writer) io.WriteCloser
}

var _ backup.Engine = (*Engine)(nil)

func New(repo lms.Repository, packageDir, stagingDir string) *Engine {
	return &Engine{
		repo:       repo,
		packageDir: packageDir,
		stagingDir: stagingDir,
		compress:   func(w io.Writer) io.WriteCloser { return brotli.NewWriter(w) },
	}
}

func (e *Engine) CreateSnapshot(ctx context.Context, courseID int64, opts backup.Options) (_ backup.Package, err error) {
	course, err := e.repo.Course(ctx, courseID)
	if err != nil {
		return nil, errors.Errorf("reading course %d: %w", courseID, err)
	}

	id := packageID(course.ShortName)
	path := filepath.Join(e.packageDir, id+".mbz.br")

	if err := os.MkdirAll(e.packageDir, 0755); err != nil {
		return nil, errors.Errorf("creating package directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Errorf("creating package file: %w", err)
	}
	defer func() {
		f.Close()
		if err != nil {
			// No handle escapes on failure, so nothing else can ever
			// delete the partial file.
			os.Remove(path)
		}
	}()

	bw := e.compress(f)
	tw := tar.NewWriter(bw)

	if err := writeEntry(tw, "moodle_backup.xml", manifestBytes(id, course, opts)); err != nil {
		return nil, errors.Errorf("writing manifest: %w", err)
	}
	if err := writeEntry(tw, "course/course.xml", courseBytes(course)); err != nil {
		return nil, errors.Errorf("writing course payload: %w", err)
	}

	if err := tw.Close(); err != nil {
		return nil, errors.Errorf("closing tar stream: %w", err)
	}
	if err := bw.Close(); err != nil {
		return nil, errors.Errorf("closing brotli stream: %w", err)
	}

	zerolog.Ctx(ctx).Debug().
		Str("package", id).
		Int64("course", courseID).
		Msg("snapshot package written")

	return &pkg{id: id, path: path}, nil
}

func (e *Engine) NewRestorePlan(ctx context.Context, packageID string, destCourseID int64, opts backup.Options) (backup.RestorePlan, error) {
	settings := make(map[string]*setting)
	for _, sv := range opts.Names() {
		settings[sv.Name] = &setting{value: sv.Value}
	}
	return &plan{
		engine:   e,
		pkgID:    packageID,
		destID:   destCourseID,
		settings: settings,
	}, nil
}

// pkg is a handle to one compressed package file.
type pkg struct {
	id   string
	path string
}

func (p *pkg) ID() string { return p.id }

func (p *pkg) Extract(ctx context.Context, dir string) error {
	f, err := os.Open(p.path)
	if err != nil {
		return errors.Errorf("opening package: %w", err)
	}
	defer f.Close()

	tr := tar.NewReader(brotli.NewReader(f))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Errorf("reading package entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := filepath.Clean(hdr.Name)
		if strings.HasPrefix(name, "..") || filepath.IsAbs(name) {
			return errors.Errorf("package entry escapes staging dir: %s", hdr.Name)
		}
		target := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return errors.Errorf("creating entry directory: %w", err)
		}
		out, err := os.Create(target)
		if err != nil {
			return errors.Errorf("creating entry file: %w", err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return errors.Errorf("extracting %s: %w", name, err)
		}
		if err := out.Close(); err != nil {
			return errors.Errorf("closing %s: %w", name, err)
		}
	}
}

func (p *pkg) Delete(ctx context.Context) error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return errors.Errorf("deleting package: %w", err)
	}
	return nil
}

// plan restores a staged package into the destination course record.
type plan struct {
	engine   *Engine
	pkgID    string
	destID   int64
	settings map[string]*setting
}

func (p *plan) Setting(name string) (backup.Setting, bool) {
	s, ok := p.settings[name]
	return s, ok
}

func (p *plan) Validate(ctx context.Context) (backup.Findings, error) {
	var f backup.Findings

	stage := filepath.Join(p.engine.stagingDir, p.pkgID)
	if _, err := os.Stat(filepath.Join(stage, "course", "course.xml")); err != nil {
		f.Blockers = append(f.Blockers, fmt.Sprintf("staged package %s has no course payload", p.pkgID))
	}
	if _, err := p.engine.repo.Course(ctx, p.destID); err != nil {
		if errors.Is(err, lms.ErrNotFound) {
			f.Blockers = append(f.Blockers, fmt.Sprintf("destination course %d does not exist", p.destID))
		} else {
			return backup.Findings{}, errors.Errorf("checking destination course: %w", err)
		}
	}
	return f, nil
}

// Execute copies the packaged course fields onto the destination record, the
// way a real restore rewrites fullname, shortname and visibility from the
// source. Callers are expected to correct those afterwards.
func (p *plan) Execute(ctx context.Context) error {
	stage := filepath.Join(p.engine.stagingDir, p.pkgID)
	data, err := os.ReadFile(filepath.Join(stage, "course", "course.xml"))
	if err != nil {
		return errors.Errorf("reading staged course payload: %w", err)
	}

	var src courseXML
	if err := xml.Unmarshal(data, &src); err != nil {
		return errors.Errorf("parsing staged course payload: %w", err)
	}

	dest, err := p.engine.repo.Course(ctx, p.destID)
	if err != nil {
		return errors.Errorf("reading destination course: %w", err)
	}

	dest.FullName = src.FullName
	dest.ShortName = src.ShortName
	dest.Visible = src.Visible != 0
	dest.Format = src.Format
	dest.Summary = src.Summary
	dest.SummaryFormat = src.SummaryFormat

	if err := p.engine.repo.UpdateCourse(ctx, dest); err != nil {
		return errors.Errorf("restoring course %d: %w", p.destID, err)
	}
	return nil
}

type setting struct {
	locked bool
	value  bool
}

func (s *setting) Locked() bool { return s.locked }

func (s *setting) SetValue(v bool) error {
	if s.locked {
		return errors.New("setting is locked")
	}
	s.value = v
	return nil
}

func packageID(shortName string) string {
	slug := strings.ToLower(strings.ReplaceAll(shortName, " ", "-"))
	return fmt.Sprintf("backup-%s-%s-%s",
		slug, time.Now().Format("20060102-1504"), uuid.NewString()[:8])
}

func writeEntry(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0644,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}

type manifestXML struct {
	XMLName   xml.Name     `xml:"moodle_backup"`
	Name      string       `xml:"information>name"`
	CourseID  int64        `xml:"information>original_course_id"`
	ShortName string       `xml:"information>original_course_shortname"`
	Settings  []settingXML `xml:"settings>setting"`
}

type settingXML struct {
	Name  string `xml:"name"`
	Value int    `xml:"value"`
}

type courseXML struct {
	XMLName       xml.Name `xml:"course"`
	ID            int64    `xml:"id"`
	ShortName     string   `xml:"shortname"`
	FullName      string   `xml:"fullname"`
	IDNumber      string   `xml:"idnumber"`
	Format        string   `xml:"format"`
	Visible       int      `xml:"visible"`
	Summary       string   `xml:"summary"`
	SummaryFormat int      `xml:"summaryformat"`
}

func manifestBytes(id string, course lms.Course, opts backup.Options) []byte {
	m := manifestXML{
		Name:      id,
		CourseID:  course.ID,
		ShortName: course.ShortName,
	}
	for _, sv := range opts.Names() {
		v := 0
		if sv.Value {
			v = 1
		}
		m.Settings = append(m.Settings, settingXML{Name: sv.Name, Value: v})
	}
	data, _ := xml.MarshalIndent(m, "", "  ")
	return append([]byte(xml.Header), data...)
}

func courseBytes(course lms.Course) []byte {
	visible := 0
	if course.Visible {
		visible = 1
	}
	c := courseXML{
		ID:            course.ID,
		ShortName:     course.ShortName,
		FullName:      course.FullName,
		IDNumber:      course.IDNumber,
		Format:        course.Format,
		Visible:       visible,
		Summary:       course.Summary,
		SummaryFormat: course.SummaryFormat,
	}
	data, _ := xml.MarshalIndent(c, "", "  ")
	return append([]byte(xml.Header), data...)
}
