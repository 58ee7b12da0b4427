// gtest runs every test program through each tyro output format and compares
// the results against golden .json files recorded earlier.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/go-cmp/cmp"
)

type Execution struct {
	Stdout         string        `json:"stdout"`
	Stderr         string        `json:"stderr"`
	ExitCode       int           `json:"exitCode"`
	Duration       time.Duration `json:"duration"`
	TimedOut       bool          `json:"timed_out"`
	UnstableOutput bool          `json:"unstable_output,omitempty"`
}

type TestRun struct {
	Name   string    `json:"name"`
	Args   []string  `json:"args,omitempty"`
	Result Execution `json:"result"`
}

type TargetResult struct {
	Compile Execution `json:"compile"`
	Runs    []TestRun `json:"runs"`
}

type FileTestResult struct {
	File    string        `json:"file"`
	Hash    string        `json:"hash,omitempty"`
	Status  string        `json:"status"` // PASS, FAIL, SKIP, ERROR
	Message string        `json:"message,omitempty"`
	Diff    string        `json:"diff,omitempty"`
	Golden  *TargetResult `json:"golden,omitempty"`
	Target  *TargetResult `json:"target,omitempty"`
}

type TestSuiteResults map[string]*FileTestResult

var (
	tyroBinary     = flag.String("tyro", "./tyro", "Path to the tyro binary to test.")
	tyroArgs       = flag.String("tyro-args", "", "Extra arguments for every tyro invocation (space-separated).")
	generateGolden = flag.String("generate-golden", "", "Generate a golden .json file for a given program.")
	testFiles      = flag.String("test-files", "tests/*.ty tests/*.tasm", "Glob pattern(s) for files to test (space-separated).")
	skipFiles      = flag.String("skip-files", "", "Files to skip (space-separated).")
	outputJSON     = flag.String("output", ".test_results.json", "Output file for the JSON test report.")
	timeout        = flag.Duration("timeout", 5*time.Second, "Timeout for each command execution.")
	jobs           = flag.Int("j", 4, "Number of parallel test jobs.")
	runs           = flag.Int("runs", 3, "Number of times to run each format to find the minimum duration.")
	verbose        = flag.Bool("v", false, "Enable verbose logging.")
	useCache       = flag.Bool("cached", false, "Reuse passing results of the previous report when neither the program nor tyro changed.")
	jsonDir        = flag.String("dir", "", "Directory to store/read golden JSON files (defaults to source file dir).")
	ignoreLines    = flag.String("ignore-lines", "", "Comma-separated substrings to ignore during output comparison.")
)

const (
	cRed     = "\x1b[91m"
	cYellow  = "\x1b[93m"
	cGreen   = "\x1b[92m"
	cCyan    = "\x1b[96m"
	cMagenta = "\x1b[95m"
	cBold    = "\x1b[1m"
	cNone    = "\x1b[0m"
)

// Placeholders keep golden files independent of where the tests ran.
const (
	sourcePlaceholder = "__SOURCE__"
	tempPlaceholder   = "__TMP__"
)

// format is one way of getting from a test program to a running VM.
type format struct {
	name    string
	ext     string
	compile []string // flags that write the artifact; nil runs the input directly
}

var formats = []format{
	{name: "direct"},
	{name: "bytecode", ext: ".tbc", compile: []string{"-c"}},
	{name: "image", ext: ".tyi", compile: []string{"--image"}},
	{name: "assembly", ext: ".tasm", compile: []string{"-S"}},
}

func main() {
	flag.Parse()
	log.SetFlags(0)

	if *runs < 1 {
		*runs = 1
	}

	tempDir, err := os.MkdirTemp("", "gtest-*")
	if err != nil {
		log.Fatalf("%s[ERROR]%s Failed to create temp directory: %v\n", cRed, cNone, err)
	}
	defer os.RemoveAll(tempDir)
	setupInterruptHandler(tempDir)

	if *generateGolden != "" {
		handleGenerateGolden(*generateGolden, tempDir)
		return
	}

	handleRunTestSuite(tempDir)
}

// setupInterruptHandler is used to clean up on CTRL+C
func setupInterruptHandler(tempDir string) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		os.RemoveAll(tempDir)
		fmt.Printf("\n%s[INTERRUPT]%s Test run cancelled. Cleaning up...\n", cYellow, cNone)
		os.Exit(1)
	}()
}

func getJSONPath(sourceFile string) string {
	jsonFileName := "." + filepath.Base(sourceFile) + ".json"
	if *jsonDir != "" {
		return filepath.Join(*jsonDir, jsonFileName)
	}
	return filepath.Join(filepath.Dir(sourceFile), jsonFileName)
}

// hashFiles computes one xxhash over the contents of every path
func hashFiles(paths ...string) (string, error) {
	h := xxhash.New()
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("%x", h.Sum64()), nil
}

func tyroPath() string {
	if path, err := exec.LookPath(*tyroBinary); err == nil {
		return path
	}
	return *tyroBinary
}

func handleGenerateGolden(sourceFile, tempDir string) {
	if abs, err := filepath.Abs(sourceFile); err == nil {
		sourceFile = abs
	}
	log.Printf("Generating golden file for %s...\n", sourceFile)

	fileHash, err := hashFiles(sourceFile)
	if err != nil {
		log.Fatalf("%s[ERROR]%s Could not hash source file %s: %v\n", cRed, cNone, sourceFile, err)
	}

	result := compileAndRun(sourceFile, tempDir, fileHash)
	for i := range result.Runs {
		if result.Runs[i].Result.UnstableOutput {
			log.Fatalf("%s[ERROR]%s Format '%s' of %s gives different output on every run\n", cRed, cNone, result.Runs[i].Name, sourceFile)
		}
	}

	jsonData, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatalf("%s[ERROR]%s Failed to marshal golden data to JSON: %v\n", cRed, cNone, err)
	}

	goldenFileName := getJSONPath(sourceFile)
	if *jsonDir != "" {
		if err := os.MkdirAll(*jsonDir, 0755); err != nil {
			log.Fatalf("%s[ERROR]%s Failed to create directory %s: %v\n", cRed, cNone, *jsonDir, err)
		}
	}

	if err := os.WriteFile(goldenFileName, jsonData, 0644); err != nil {
		log.Fatalf("%s[ERROR]%s Failed to write golden file %s: %v\n", cRed, cNone, goldenFileName, err)
	}

	log.Printf("%s[SUCCESS]%s Golden file created at %s\n", cGreen, cNone, goldenFileName)
}

func handleRunTestSuite(tempDir string) {
	binaryHash, err := hashFiles(tyroPath())
	if err != nil {
		log.Fatalf("%s[ERROR]%s tyro binary '%s' is not usable: %v\n", cRed, cNone, *tyroBinary, err)
	}

	files, err := expandGlobPatterns(*testFiles)
	if err != nil {
		log.Fatalf("%s[ERROR]%s Invalid glob pattern(s): %v\n", cRed, cNone, err)
	}
	if len(files) == 0 {
		log.Println("No test files found matching the pattern(s).")
		return
	}

	previousResults := make(TestSuiteResults)
	outputFile := *outputJSON
	if *jsonDir != "" {
		outputFile = filepath.Join(*jsonDir, *outputJSON)
	}
	if *useCache {
		if prevData, err := os.ReadFile(outputFile); err == nil {
			if json.Unmarshal(prevData, &previousResults) != nil {
				log.Printf("%s[WARN]%s Could not parse previous results file %s. Cache will not be used.\n", cYellow, cNone, outputFile)
				previousResults = make(TestSuiteResults)
			}
		}
	}

	skipList := make(map[string]bool)
	for _, f := range strings.Fields(*skipFiles) {
		if abs, err := filepath.Abs(f); err == nil {
			skipList[abs] = true
		}
	}

	tasks := make(chan string, len(files))
	resultsChan := make(chan *FileTestResult, len(files))
	var wg sync.WaitGroup

	for i := 0; i < *jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for file := range tasks {
				resultsChan <- testFile(file, tempDir, binaryHash, previousResults)
			}
		}()
	}

	// Feed the tasks channel, skipping files with identical content
	seenHashes := make(map[string]string)
	for _, file := range files {
		if skipList[file] {
			resultsChan <- &FileTestResult{File: file, Status: "SKIP", Message: "Explicitly skipped"}
			continue
		}
		fileHash, err := hashFiles(file)
		if err != nil {
			resultsChan <- &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Failed to read file for hashing: %v", err)}
			continue
		}
		if originalFile, seen := seenHashes[fileHash]; seen {
			resultsChan <- &FileTestResult{File: file, Status: "SKIP", Message: fmt.Sprintf("Content is identical to %s", originalFile)}
			continue
		}
		seenHashes[fileHash] = file
		tasks <- file
	}
	close(tasks)

	wg.Wait()
	close(resultsChan)

	var allResults []*FileTestResult
	for result := range resultsChan {
		allResults = append(allResults, result)
	}

	sort.Slice(allResults, func(i, j int) bool {
		return allResults[i].File < allResults[j].File
	})

	printSummary(allResults)
	resultsMap := writeJSONReport(allResults, outputFile)

	if hasFailures(resultsMap) {
		os.Exit(1)
	}
}

func testFile(file, tempDir, binaryHash string, previousResults TestSuiteResults) *FileTestResult {
	goldenFile := getJSONPath(file)
	goldenData, err := os.ReadFile(goldenFile)
	if errors.Is(err, os.ErrNotExist) {
		return &FileTestResult{File: file, Status: "SKIP", Message: "Cannot test without a corresponding .json golden file"}
	}
	if err != nil {
		return &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Could not read golden file %s: %v", goldenFile, err)}
	}

	// the cache key covers the program, its golden file and the binary
	hash, err := hashFiles(file, goldenFile)
	if err != nil {
		return &FileTestResult{File: file, Status: "ERROR", Message: "Failed to hash source file"}
	}
	hash += "-" + binaryHash
	if prev, ok := previousResults[file]; ok && prev.Status == "PASS" && prev.Hash == hash {
		if *verbose {
			log.Printf("[%s] unchanged since the last run, reusing its result", file)
		}
		cached := *prev
		cached.Message += " (cached)"
		return &cached
	}

	var golden TargetResult
	if err := json.Unmarshal(goldenData, &golden); err != nil {
		return &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Could not parse golden file %s: %v", goldenFile, err)}
	}

	result := compareResults(file, &golden, compileAndRun(file, tempDir, hash))
	result.Hash = hash
	return result
}

func compareResults(file string, golden, target *TargetResult) *FileTestResult {
	var diffs strings.Builder
	var failed bool

	ignoredSubstrings := []string{}
	if *ignoreLines != "" {
		ignoredSubstrings = strings.Split(*ignoreLines, ",")
	}

	compareExecution := func(name string, want, got Execution) {
		if want.ExitCode != got.ExitCode {
			failed = true
			diffs.WriteString(fmt.Sprintf("%s Exit Code mismatch:\n  - Golden: %d\n  - Target: %d\n", name, want.ExitCode, got.ExitCode))
		}
		if want.UnstableOutput != got.UnstableOutput {
			failed = true
			diffs.WriteString(fmt.Sprintf("%s Output Stability Mismatch:\n  - Golden: %v\n  - Target: %v\n", name, want.UnstableOutput, got.UnstableOutput))
		}
		if filterOutput(want.Stdout, ignoredSubstrings) != filterOutput(got.Stdout, ignoredSubstrings) {
			failed = true
			diffs.WriteString(fmt.Sprintf("%s STDOUT mismatch:\n%s", name, cmp.Diff(want.Stdout, got.Stdout)))
		}
		if filterOutput(want.Stderr, ignoredSubstrings) != filterOutput(got.Stderr, ignoredSubstrings) {
			failed = true
			diffs.WriteString(fmt.Sprintf("%s STDERR mismatch:\n%s", name, cmp.Diff(want.Stderr, got.Stderr)))
		}
	}

	compareExecution("Compile", golden.Compile, target.Compile)

	targetRuns := make(map[string]TestRun, len(target.Runs))
	for _, run := range target.Runs {
		targetRuns[run.Name] = run
	}
	for _, want := range golden.Runs {
		got, ok := targetRuns[want.Name]
		if !ok {
			failed = true
			diffs.WriteString(fmt.Sprintf("Format '%s' missing in target results.\n", want.Name))
			continue
		}
		compareExecution(fmt.Sprintf("Format '%s'", want.Name), want.Result, got.Result)
	}

	if failed {
		return &FileTestResult{File: file, Status: "FAIL", Message: "Output or exit code mismatch", Diff: diffs.String(), Golden: golden, Target: target}
	}
	msg := "All formats passed"
	if golden.Compile.ExitCode != 0 {
		msg = "Compilation failed as expected"
	}
	return &FileTestResult{File: file, Status: "PASS", Message: msg, Golden: golden, Target: target}
}

// executeCommand runs a command with a timeout and captures its output
func executeCommand(ctx context.Context, command string, args ...string) Execution {
	startTime := time.Now()
	cmd := exec.CommandContext(ctx, command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	duration := time.Since(startTime)

	execResult := Execution{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	var exitErr *exec.ExitError
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		execResult.TimedOut = true
		execResult.ExitCode = -1
	case errors.As(err, &exitErr):
		execResult.ExitCode = exitErr.ExitCode()
	case err != nil:
		execResult.ExitCode = -2
		execResult.Stderr += "\nExecution error: " + err.Error()
	}
	return execResult
}

// tyro runs the binary under test with the extra arguments and replaces
// run-specific paths in its output.
func tyro(sourceFile, tempDir string, args ...string) Execution {
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	allArgs := append(strings.Fields(*tyroArgs), args...)
	result := executeCommand(ctx, *tyroBinary, allArgs...)
	result.Stdout = normalize(result.Stdout, sourceFile, tempDir)
	result.Stderr = normalize(result.Stderr, sourceFile, tempDir)
	return result
}

func normalize(s, sourceFile, tempDir string) string {
	s = strings.ReplaceAll(s, sourceFile, sourcePlaceholder)
	return strings.ReplaceAll(s, tempDir, tempPlaceholder)
}

// compileAndRun checks that the program compiles, then writes it in every
// output format and runs each one.
func compileAndRun(sourceFile, tempDir, hash string) *TargetResult {
	check := filepath.Join(tempDir, hash+".check.tbc")
	compileResult := tyro(sourceFile, tempDir, "-c", "-o", check, sourceFile)
	result := &TargetResult{Compile: compileResult}
	if compileResult.ExitCode != 0 || compileResult.TimedOut {
		return result
	}

	ignoredSubstrings := []string{}
	if *ignoreLines != "" {
		ignoredSubstrings = strings.Split(*ignoreLines, ",")
	}

	for _, f := range formats {
		input := sourceFile
		if f.compile != nil {
			input = filepath.Join(tempDir, hash+"-"+f.name+f.ext)
			args := append(append([]string{}, f.compile...), "-o", input, sourceFile)
			if write := tyro(sourceFile, tempDir, args...); write.ExitCode != 0 {
				result.Runs = append(result.Runs, TestRun{Name: f.name, Args: args, Result: write})
				continue
			}
		}

		var durations []time.Duration
		var first Execution
		var unstable bool
		for i := 0; i < *runs; i++ {
			run := tyro(sourceFile, tempDir, input)
			run.Stdout = strings.ReplaceAll(run.Stdout, input, sourcePlaceholder)
			run.Stderr = strings.ReplaceAll(run.Stderr, input, sourcePlaceholder)
			if i == 0 {
				first = run
			} else if first.ExitCode != run.ExitCode ||
				filterOutput(first.Stdout, ignoredSubstrings) != filterOutput(run.Stdout, ignoredSubstrings) ||
				filterOutput(first.Stderr, ignoredSubstrings) != filterOutput(run.Stderr, ignoredSubstrings) {
				// the fastest run means nothing when output changes between runs
				unstable = true
				break
			}
			if run.TimedOut {
				break
			}
			durations = append(durations, run.Duration)
		}
		if len(durations) > 0 {
			sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
			first.Duration = durations[0]
		}
		first.UnstableOutput = unstable
		result.Runs = append(result.Runs, TestRun{Name: f.name, Result: first})
	}
	return result
}

// filterOutput removes lines containing any of the given substrings
func filterOutput(output string, ignoredSubstrings []string) string {
	if len(ignoredSubstrings) == 0 || output == "" {
		return output
	}
	lines := strings.Split(output, "\n")
	filteredLines := make([]string, 0, len(lines))

	for _, line := range lines {
		ignore := false
		for _, sub := range ignoredSubstrings {
			if sub != "" && strings.Contains(line, sub) {
				ignore = true
				break
			}
		}
		if !ignore {
			filteredLines = append(filteredLines, line)
		}
	}
	return strings.Join(filteredLines, "\n")
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%6dµs", d.Microseconds())
	}
	return fmt.Sprintf("%6dms", d.Milliseconds())
}

func printSummary(results []*FileTestResult) {
	var passed, failed, skipped, errored int

	var maxNameLen int
	for _, f := range formats {
		maxNameLen = max(maxNameLen, len(f.name))
	}

	for _, result := range results {
		fmt.Println("----------------------------------------------------------------------")
		fmt.Printf("Testing %s%s%s...\n", cCyan, result.File, cNone)

		switch result.Status {
		case "PASS":
			passed++
			fmt.Printf("  [%sPASS%s] %s\n", cGreen, cNone, result.Message)
		case "FAIL":
			failed++
			fmt.Printf("  [%sFAIL%s] %s\n", cRed, cNone, result.Message)
			fmt.Println(formatDiff(result.Diff))
		case "SKIP":
			skipped++
			fmt.Printf("  [%sSKIP%s] %s\n", cYellow, cNone, result.Message)
		case "ERROR":
			errored++
			fmt.Printf("  [%sERROR%s] %s\n", cRed, cNone, result.Message)
		}

		if result.Status != "PASS" || result.Target == nil || len(result.Target.Runs) == 0 {
			continue
		}

		// highlight the quickest format of each program
		best := result.Target.Runs[0]
		for _, run := range result.Target.Runs[1:] {
			if run.Result.Duration < best.Result.Duration {
				best = run
			}
		}
		if *verbose {
			fmt.Printf("  %-*s: %s\n", maxNameLen, "compile", formatDuration(result.Target.Compile.Duration))
			for _, run := range result.Target.Runs {
				c := cNone
				if run.Name == best.Name {
					c = cMagenta
				}
				fmt.Printf("  %-*s: %s%s%s\n", maxNameLen, run.Name, c, formatDuration(run.Result.Duration), cNone)
			}
		}
	}

	fmt.Println("----------------------------------------------------------------------")
	fmt.Printf("%sTest Summary:%s %s%d Passed%s, %s%d Failed%s, %s%d Skipped%s, %s%d Errored%s, %d Total\n",
		cBold, cNone, cGreen, passed, cNone, cRed, failed, cNone, cYellow, skipped, cNone, cRed, errored, cNone, len(results))
}

func formatDiff(diff string) string {
	if diff == "" {
		return ""
	}
	var builder strings.Builder
	builder.WriteString("    --- Diff ---\n")
	for _, line := range strings.Split(diff, "\n") {
		lineWithIndent := "    " + line
		trimmedLine := strings.TrimSpace(line)
		if strings.HasPrefix(trimmedLine, "-") {
			builder.WriteString(cRed)
		} else if strings.HasPrefix(trimmedLine, "+") {
			builder.WriteString(cGreen)
		}
		builder.WriteString(lineWithIndent)
		builder.WriteString(cNone)
		builder.WriteString("\n")
	}
	return builder.String()
}

func writeJSONReport(results []*FileTestResult, outputFile string) TestSuiteResults {
	resultsMap := make(TestSuiteResults, len(results))
	for _, r := range results {
		resultsMap[r.File] = r
	}

	jsonData, err := json.MarshalIndent(resultsMap, "", "  ")
	if err != nil {
		log.Printf("%s[ERROR]%s Failed to marshal results to JSON: %v\n", cRed, cNone, err)
		return resultsMap
	}

	if *jsonDir != "" {
		if err := os.MkdirAll(*jsonDir, 0755); err != nil {
			log.Printf("%s[ERROR]%s Failed to create dir %s: %v\n", cRed, cNone, *jsonDir, err)
		}
	}

	if err := os.WriteFile(outputFile, jsonData, 0644); err != nil {
		log.Printf("%s[ERROR]%s Failed to write JSON report to %s: %v\n", cRed, cNone, outputFile, err)
	} else {
		fmt.Printf("Full test report saved to %s\n", outputFile)
	}
	return resultsMap
}

func hasFailures(results TestSuiteResults) bool {
	for _, result := range results {
		if result.Status == "FAIL" || result.Status == "ERROR" {
			return true
		}
	}
	return false
}

func expandGlobPatterns(patterns string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]bool)
	for _, pattern := range strings.Fields(patterns) {
		files, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %s: %w", pattern, err)
		}
		for _, file := range files {
			absFile, err := filepath.Abs(file)
			if err != nil {
				continue
			}
			if !seen[absFile] {
				if info, err := os.Stat(absFile); err == nil && info.Mode().IsRegular() {
					allFiles = append(allFiles, absFile)
					seen[absFile] = true
				}
			}
		}
	}
	return allFiles, nil
}
