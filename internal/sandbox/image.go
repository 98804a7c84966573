package sandbox

// ImageConfig describes a sandbox image: which container image backs it and
// what the model can expect to find preinstalled. The fields are surfaced
// verbatim into the dynamic system prompt.
type ImageConfig struct {
	Name                 string
	Image                string
	Description          string
	WorkDir              string
	PreInstalledPackages []string
	Capabilities         []string
}

// DefaultImageConfig returns the data-analysis image used when the caller
// does not supply one.
func DefaultImageConfig() ImageConfig {
	return ImageConfig{
		Name:        "data-analysis",
		Image:       "deepserve-sandbox",
		Description: "数据分析执行环境,支持 Excel/CSV 处理、统计分析、数据可视化和 Python 脚本执行",
		WorkDir:     "/workspace",
		PreInstalledPackages: []string{
			"pandas", "numpy",
			"openpyxl", "xlrd", "xlsxwriter", "python-docx",
			"matplotlib", "seaborn", "plotly",
			"scipy", "statsmodels",
			"requests", "httpx",
			"tqdm", "tabulate", "chardet", "orjson",
		},
		Capabilities: []string{
			"excel", "csv", "data-analysis", "visualization", "statistics", "python",
		},
	}
}
