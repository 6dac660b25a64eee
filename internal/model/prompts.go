package model

import (
	"fmt"
	"time"
)

// Language selects the prompt language.
type Language string

const (
	LangEN Language = "en"
	LangCN Language = "cn"
)

const actionGuideEN = `Available actions (output exactly one):
- do(action="Tap", element=[x,y])  # integer coordinates 0-999
- do(action="Double Tap", element=[x,y])
- do(action="Long Press", element=[x,y])
- do(action="Swipe", start=[x1,y1], end=[x2,y2])
- do(action="Type", text="content")
- do(action="Launch", app="app name")
- do(action="Back") / do(action="Home")
- do(action="Wait", duration="2 seconds")
- do(action="Take_over", message="needs manual login/verification")
- finish(message="what was accomplished")

Coordinate system: top-left (0,0), bottom-right (999,999), screen center (500,500).

Rules:
1) Output exactly one action, nothing else. No explanations, no markdown fences.
2) If the target app is not in the foreground, launch it first.
3) If the screen is still loading, wait. For login or captcha, hand over to the user.`

const actionGuideCN = `动作代码（任选其一，只输出一个）：
- do(action="Tap", element=[x,y])  # 坐标整数 0-999
- do(action="Double Tap", element=[x,y])
- do(action="Long Press", element=[x,y])
- do(action="Swipe", start=[x1,y1], end=[x2,y2])
- do(action="Type", text="内容")
- do(action="Launch", app="应用名")
- do(action="Back") / do(action="Home")
- do(action="Wait", duration="2 seconds")
- do(action="Take_over", message="需要手动登录/验证")
- finish(message="完成说明")

坐标系统：左上角(0,0)，右下角(999,999)，屏幕中心(500,500)。

规则：
1) 只输出一个动作代码，不要解释、列表或代码块
2) 若当前不在目标应用：先 do(action="Launch", app="目标应用")
3) 需要加载就 Wait；登录/验证码就 Take_over`

const thinkingFormatEN = `Output format (strict):
<think>one short sentence on why this action</think>
<answer>one line of action code</answer>`

const thinkingFormatCN = `输出格式（必须严格遵守）：
<think>用一句话说明为什么选这个动作</think>
<answer>只输出 1 行动作代码</answer>`

// SystemPrompt builds the system prompt for one session. Thinking mode
// wraps the action in <think>/<answer> tags; some APIs return empty
// responses when XML tags appear in the prompt, so it can be disabled.
func SystemPrompt(lang Language, thinking bool, now time.Time) string {
	switch lang {
	case LangCN:
		head := fmt.Sprintf("今天的日期是: %s\n\n你是手机自动化助手。根据屏幕截图，输出操作指令完成用户任务。", now.Format("2006年01月02日"))
		if thinking {
			return head + "\n\n" + thinkingFormatCN + "\n\n" + actionGuideCN
		}
		return head + "\n\n" + actionGuideCN
	default:
		head := fmt.Sprintf("Today's date: %s\n\nYou are a mobile automation assistant. Given a screenshot, output the next action to complete the user's task.", now.Format("2006-01-02"))
		if thinking {
			return head + "\n\n" + thinkingFormatEN + "\n\n" + actionGuideEN
		}
		return head + "\n\n" + actionGuideEN
	}
}
