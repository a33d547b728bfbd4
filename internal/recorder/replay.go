package recorder

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Replay 按写入顺序读取录制文件，逐条回调。
// handler 返回错误时提前终止。
func Replay(filePath string, handler func(ev Event) error) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("无法打开录制文件 %s: %v", filePath, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = len(csvHeader)

	// 跳过表头
	if _, err := reader.Read(); err != nil {
		return fmt.Errorf("读取CSV表头失败: %v", err)
	}

	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("读取CSV记录失败: %v", err)
		}
		line++

		ev, err := parseRecord(record)
		if err != nil {
			return fmt.Errorf("第 %d 行解析失败: %v", line, err)
		}
		if err := handler(ev); err != nil {
			return err
		}
	}
}

func parseRecord(record []string) (Event, error) {
	ts, err := strconv.ParseInt(record[0], 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("无效的时间戳 %q", record[0])
	}

	ev := Event{Ts: ts, Kind: record[1], Key: record[2]}
	switch ev.Kind {
	case KindSpot:
		ev.Price, err = strconv.ParseFloat(record[3], 64)
		if err != nil {
			return Event{}, fmt.Errorf("无效的价格 %q", record[3])
		}
	case KindBook:
		fields := []*float64{&ev.BestBid, &ev.BestAsk, &ev.BidDepth, &ev.AskDepth}
		for i, f := range fields {
			*f, err = strconv.ParseFloat(record[4+i], 64)
			if err != nil {
				return Event{}, fmt.Errorf("无效的盘口字段 %q", record[4+i])
			}
		}
	default:
		return Event{}, fmt.Errorf("未知的事件类型 %q", ev.Kind)
	}
	return ev, nil
}
