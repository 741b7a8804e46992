package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
)

// requiredColumns 名单必须包含的列
var requiredColumns = []string{"name", "email"}

// errMissingColumns 名单缺少必需列
var errMissingColumns = errors.New("roster is missing required columns")

// roster 读入内存的名单，code 列不存在时追加在末尾
type roster struct {
	header  []string
	rows    [][]string
	nameCol int
	mailCol int
	codeCol int
}

type created struct {
	Name  string
	Email string
	Code  string
}

type failed struct {
	Row   int
	Name  string
	Email string
	Err   string
}

// rosterResult 一次处理的结果
type rosterResult struct {
	Created []created
	Skipped int
	Failed  []failed
}

// userCreator 创建学生账号所需的用户服务能力
type userCreator interface {
	GenerateUniqueUserCode(ctx context.Context) (string, error)
	CreateUser(ctx context.Context, code string, consent models.Consent) (*models.User, error)
}

func readRoster(r io.Reader) (*roster, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s", errMissingColumns, strings.Join(requiredColumns, ", "))
	}
	if err != nil {
		return nil, fmt.Errorf("read roster header: %w", err)
	}

	ros := &roster{header: header, nameCol: -1, mailCol: -1, codeCol: -1}
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))) {
		case "name":
			ros.nameCol = i
		case "email":
			ros.mailCol = i
		case "code":
			ros.codeCol = i
		}
	}
	var missing []string
	if ros.nameCol < 0 {
		missing = append(missing, "name")
	}
	if ros.mailCol < 0 {
		missing = append(missing, "email")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", errMissingColumns, strings.Join(missing, ", "))
	}
	if ros.codeCol < 0 {
		ros.codeCol = len(ros.header)
		ros.header = append(ros.header, "code")
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read roster: %w", err)
		}
		for len(record) < len(ros.header) {
			record = append(record, "")
		}
		ros.rows = append(ros.rows, record)
	}
	return ros, nil
}

// assignCodes 为没有访问码的行创建用户，授权状态为未选择。单行失败不影响其他行。
func (ros *roster) assignCodes(ctx context.Context, users userCreator) rosterResult {
	var res rosterResult
	for i, row := range ros.rows {
		name := strings.TrimSpace(row[ros.nameCol])
		email := strings.TrimSpace(row[ros.mailCol])
		if strings.TrimSpace(row[ros.codeCol]) != "" {
			res.Skipped++
			continue
		}

		code, err := users.GenerateUniqueUserCode(ctx)
		if err == nil {
			_, err = users.CreateUser(ctx, code, models.ConsentUndecided)
		}
		if err != nil {
			res.Failed = append(res.Failed, failed{Row: i + 2, Name: name, Email: email, Err: err.Error()})
			continue
		}
		row[ros.codeCol] = code
		res.Created = append(res.Created, created{Name: name, Email: email, Code: code})
	}
	return res
}

func (ros *roster) write(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(ros.header); err != nil {
		return err
	}
	if err := writer.WriteAll(ros.rows); err != nil {
		return err
	}
	return writer.Error()
}

func writeReport(w io.Writer, res rosterResult, at time.Time) error {
	line := strings.Repeat("=", 60)
	sep := strings.Repeat("-", 30)

	var b strings.Builder
	b.WriteString("Student Codes Report\n")
	fmt.Fprintf(&b, "Generated: %s\n", at.Format(time.RFC3339))
	b.WriteString(line + "\n\n")

	b.WriteString("SUMMARY:\n")
	fmt.Fprintf(&b, "Created: %d\n", len(res.Created))
	fmt.Fprintf(&b, "Skipped (existing code): %d\n", res.Skipped)
	fmt.Fprintf(&b, "Failed: %d\n\n", len(res.Failed))

	if len(res.Created) > 0 {
		b.WriteString("CREATED CODES:\n" + sep + "\n")
		for _, c := range res.Created {
			fmt.Fprintf(&b, "Name: %s\nEmail: %s\nCode: %s\n%s\n", c.Name, c.Email, c.Code, sep)
		}
		b.WriteString("\n")
	}
	if len(res.Failed) > 0 {
		b.WriteString("FAILED:\n" + sep + "\n")
		for _, f := range res.Failed {
			fmt.Fprintf(&b, "Row: %d\nName: %s\nEmail: %s\nError: %s\n%s\n", f.Row, f.Name, f.Email, f.Err, sep)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// sampleRoster 示例名单
const sampleRoster = `name,email
Ada Lovelace,ada@example.edu
Alan Turing,alan@example.edu
Grace Hopper,grace@example.edu
`
