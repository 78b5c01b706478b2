package server

import "math/rand/v2"

// 访客昵称词库
var (
	adjectives = []string{
		"勇敢的", "沉稳的", "机智的", "神秘的", "威武的",
		"冷静的", "果断的", "老练的", "无畏的", "潇洒的",
		"警觉的", "坚毅的", "迅捷的", "隐秘的", "傲然的",
	}

	nouns = []string{
		"舰长", "水手", "领航员", "炮手", "瞭望员",
		"信号兵", "轮机长", "大副", "潜航员", "掌舵手",
		"鱼雷手", "护卫舰", "驱逐舰", "巡洋舰", "旗舰",
	}
)

// GenerateNickname 为访客生成随机昵称
func GenerateNickname() string {
	return adjectives[rand.IntN(len(adjectives))] + nouns[rand.IntN(len(nouns))]
}
