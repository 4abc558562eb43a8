package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Table 简单表格输出
type Table struct {
	headers []string
	rows    [][]string
	widths  []int
	out     io.Writer
}

// NewTable 创建表格，输出到标准输出
func NewTable(headers []string) *Table {
	return NewTableTo(os.Stdout, headers)
}

// NewTableTo 创建输出到指定Writer的表格
func NewTableTo(out io.Writer, headers []string) *Table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	return &Table{
		headers: headers,
		widths:  widths,
		out:     out,
	}
}

// AddRow 添加行
func (t *Table) AddRow(row ...string) {
	for i, cell := range row {
		if i < len(t.widths) && len(cell) > t.widths[i] {
			t.widths[i] = len(cell)
		}
	}
	t.rows = append(t.rows, row)
}

// Render 渲染表格
func (t *Table) Render() {
	headerColor := color.New(color.FgCyan, color.Bold)
	for i, h := range t.headers {
		headerColor.Fprintf(t.out, "%-*s  ", t.widths[i], h)
	}
	fmt.Fprintln(t.out)

	for i := range t.headers {
		fmt.Fprint(t.out, strings.Repeat("-", t.widths[i])+"  ")
	}
	fmt.Fprintln(t.out)

	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(t.widths) {
				fmt.Fprintf(t.out, "%-*s  ", t.widths[i], cell)
			}
		}
		fmt.Fprintln(t.out)
	}
}

// Status 按工作流状态着色
func Status(status string) string {
	switch status {
	case "SUCCESS":
		return color.GreenString(status)
	case "ERROR":
		return color.RedString(status)
	case "RUNNING":
		return color.CyanString(status)
	case "PENDING":
		return color.YellowString(status)
	default:
		return status
	}
}
