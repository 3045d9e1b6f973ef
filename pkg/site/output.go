package site

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/doc-site/pkg/config"
	"github.com/Sriram-PR/doc-site/pkg/models"
	"github.com/Sriram-PR/doc-site/pkg/sitemap"
	"github.com/Sriram-PR/doc-site/pkg/utils"
)

// StructureFilename is the directory listing written when enable_structure_file is set
const StructureFilename = "site_structure.txt"

// OutputManager owns the bookkeeping files written next to the built pages:
// the TSV source-to-output mapping, the YAML build metadata, the sitemap and the structure listing.
type OutputManager struct {
	log       *logrus.Entry
	appCfg    *config.AppConfig
	siteCfg   *config.SiteConfig
	outputDir string

	// TSV mapping
	mappingFile     *os.File
	mappingFileMu   sync.Mutex
	mappingFilePath string

	// YAML metadata and sitemap
	collectedPageMetadata []models.PageMetadata
	metadataMutex         sync.Mutex
}

// NewOutputManager creates an OutputManager without opening files.
// Call OpenFiles after the output directory is ready.
func NewOutputManager(log *logrus.Entry, appCfg *config.AppConfig, siteCfg *config.SiteConfig, outputDir string) *OutputManager {
	return &OutputManager{
		log:                   log,
		appCfg:                appCfg,
		siteCfg:               siteCfg,
		outputDir:             outputDir,
		collectedPageMetadata: make([]models.PageMetadata, 0),
	}
}

// ControlFiles returns the names of the bookkeeping files this manager may write.
// They live in the output root and are never treated as built pages.
func (om *OutputManager) ControlFiles() []string {
	names := []string{config.GetEffectiveMetadataYAMLFilename(*om.siteCfg, *om.appCfg), StructureFilename}
	if config.GetEffectiveEnableOutputMapping(*om.siteCfg, *om.appCfg) {
		names = append(names, config.GetEffectiveOutputMappingFilename(*om.siteCfg, *om.appCfg))
	}
	if om.siteCfg.BaseURL != "" {
		names = append(names, sitemap.Filename)
	}
	return names
}

// OpenFiles opens the TSV mapping file, if enabled, truncating any previous copy.
// Every build records every document, so the file is always rewritten in full.
func (om *OutputManager) OpenFiles() {
	if !config.GetEffectiveEnableOutputMapping(*om.siteCfg, *om.appCfg) {
		om.log.Debug("TSV source-to-output mapping is disabled.")
		return
	}

	filename := config.GetEffectiveOutputMappingFilename(*om.siteCfg, *om.appCfg)
	om.mappingFilePath = filepath.Join(om.outputDir, filename)
	file, err := os.OpenFile(om.mappingFilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		om.log.Errorf("Failed to open/create TSV mapping file '%s': %v. Mapping output will be disabled.", om.mappingFilePath, err)
		return
	}
	om.mappingFile = file
	om.log.Infof("TSV source-to-output mapping enabled. Output file: %s", om.mappingFilePath)
}

// RecordPage writes the mapping line and collects metadata for one built or unchanged page.
func (om *OutputManager) RecordPage(page models.PageMetadata, taskLog *logrus.Entry) {
	om.writeToMappingFile(page.SourcePath, page.OutputPath, taskLog)

	om.metadataMutex.Lock()
	om.collectedPageMetadata = append(om.collectedPageMetadata, page)
	om.metadataMutex.Unlock()
}

// PagesRecorded returns the number of pages recorded so far.
func (om *OutputManager) PagesRecorded() int {
	om.metadataMutex.Lock()
	defer om.metadataMutex.Unlock()
	return len(om.collectedPageMetadata)
}

// Close closes the mapping file and writes the YAML metadata, with pages sorted by source path.
func (om *OutputManager) Close(meta models.SiteMetadata) error {
	om.closeMappingFile()
	return om.writeMetadataYAML(meta)
}

// WriteStructureFile writes a tree listing of the output directory, if enabled.
func (om *OutputManager) WriteStructureFile() error {
	if !config.GetEffectiveEnableStructureFile(*om.siteCfg, *om.appCfg) {
		return nil
	}
	path := filepath.Join(om.outputDir, StructureFilename)
	if err := utils.GenerateAndSaveTreeStructure(om.outputDir, path, om.log); err != nil {
		return fmt.Errorf("%w: writing structure file: %w", utils.ErrFilesystem, err)
	}
	om.log.Infof("Wrote output structure to %s", path)
	return nil
}

// WriteSitemap writes sitemap.xml for every recorded page when the site has a base_url.
func (om *OutputManager) WriteSitemap() error {
	if om.siteCfg.BaseURL == "" {
		return nil
	}
	base, err := sitemap.NormalizeBaseURL(om.siteCfg.BaseURL)
	if err != nil {
		return fmt.Errorf("%w: base_url '%s': %w", utils.ErrConfigValidation, om.siteCfg.BaseURL, err)
	}

	om.metadataMutex.Lock()
	set := sitemap.Build(base, om.collectedPageMetadata)
	om.metadataMutex.Unlock()

	path := filepath.Join(om.outputDir, sitemap.Filename)
	if err := sitemap.Write(path, set); err != nil {
		return err
	}
	om.log.Infof("Wrote sitemap (%d URLs) to %s", len(set.URLs), path)
	return nil
}

// closeMappingFile closes the TSV mapping file, if it was opened.
func (om *OutputManager) closeMappingFile() {
	om.mappingFileMu.Lock()
	defer om.mappingFileMu.Unlock()

	if om.mappingFile != nil {
		om.log.Debugf("Syncing and closing TSV mapping file: %s", om.mappingFilePath)
		if err := om.mappingFile.Sync(); err != nil {
			om.log.Errorf("Error syncing TSV mapping file '%s': %v", om.mappingFilePath, err)
		}
		if err := om.mappingFile.Close(); err != nil {
			om.log.Errorf("Error closing TSV mapping file '%s': %v", om.mappingFilePath, err)
		}
		om.mappingFile = nil
	}
}

// writeToMappingFile writes a "source<TAB>output" line (if enabled and open).
func (om *OutputManager) writeToMappingFile(sourcePath, outputPath string, taskLog *logrus.Entry) {
	om.mappingFileMu.Lock()
	defer om.mappingFileMu.Unlock()

	if om.mappingFile == nil {
		return
	}

	line := fmt.Sprintf("%s\t%s\n", sourcePath, outputPath)
	if _, err := om.mappingFile.WriteString(line); err != nil {
		taskLog.WithFields(logrus.Fields{
			"tsv_mapping_file": om.mappingFilePath,
			"line_content":     strings.TrimSpace(line),
		}).Errorf("Failed to write to TSV mapping file: %v", err)
	}
}

// writeMetadataYAML writes the build summary plus all collected page metadata.
func (om *OutputManager) writeMetadataYAML(meta models.SiteMetadata) error {
	if !config.GetEffectiveEnableMetadataYAML(*om.siteCfg, *om.appCfg) {
		om.log.Debug("YAML metadata output is disabled.")
		return nil
	}

	filename := config.GetEffectiveMetadataYAMLFilename(*om.siteCfg, *om.appCfg)
	yamlFilePath := filepath.Join(om.outputDir, filename)

	om.metadataMutex.Lock()
	pages := make([]models.PageMetadata, len(om.collectedPageMetadata))
	copy(pages, om.collectedPageMetadata)
	om.metadataMutex.Unlock()

	sort.Slice(pages, func(i, j int) bool { return pages[i].SourcePath < pages[j].SourcePath })
	meta.Pages = pages

	yamlData, err := yaml.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("failed to marshal build metadata to YAML for site '%s': %w", meta.SiteKey, err)
	}
	if err := os.WriteFile(yamlFilePath, yamlData, 0644); err != nil {
		return fmt.Errorf("%w: writing metadata YAML file '%s' for site '%s': %w", utils.ErrFilesystem, yamlFilePath, meta.SiteKey, err)
	}

	om.log.Infof("Wrote build metadata (%d pages) to %s", len(pages), yamlFilePath)
	return nil
}

// ErrNoMetadata is returned by LoadMetadata when a site has no metadata file yet.
var ErrNoMetadata = errors.New("no build metadata")

// LoadMetadata reads the YAML metadata written by the last build of a site.
func LoadMetadata(appCfg config.AppConfig, siteCfg config.SiteConfig) (*models.SiteMetadata, error) {
	if !config.GetEffectiveEnableMetadataYAML(siteCfg, appCfg) {
		return nil, ErrNoMetadata
	}
	path := filepath.Join(siteCfg.OutputDir, config.GetEffectiveMetadataYAMLFilename(siteCfg, appCfg))
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoMetadata
		}
		return nil, fmt.Errorf("%w: reading '%s': %w", utils.ErrFilesystem, path, err)
	}

	var meta models.SiteMetadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: parsing '%s': %w", utils.ErrParsing, path, err)
	}
	return &meta, nil
}
